package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/providerspec"
)

const defaultMaxTokens = 4096

type Adapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
	// MaxRetries is handed to the SDK. Zero disables SDK-level retries.
	MaxRetries int

	sdk *sdk.Client
}

func init() {
	llm.RegisterEnvAdapterFactory(func() (llm.ProviderAdapter, bool, error) {
		if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) == "" {
			return nil, false, nil
		}
		a, err := NewFromEnv()
		if err != nil {
			return nil, true, err
		}
		return a, true, nil
	})
}

func NewFromEnv() (*Adapter, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return NewWithProvider("anthropic", key, os.Getenv("ANTHROPIC_BASE_URL")), nil
}

func NewWithProvider(provider, apiKey, baseURL string) *Adapter {
	p := providerspec.CanonicalProviderKey(provider)
	if p == "" {
		p = "anthropic"
	}
	return &Adapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client:     &http.Client{Timeout: 0},
		MaxRetries: 2,
	}
}

func (a *Adapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "anthropic"
}

func (a *Adapter) client() *sdk.Client {
	if a.sdk != nil {
		return a.sdk
	}
	opts := []option.RequestOption{
		option.WithAPIKey(a.APIKey),
		option.WithMaxRetries(a.MaxRetries),
	}
	if a.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.BaseURL))
	}
	if a.Client != nil {
		opts = append(opts, option.WithHTTPClient(a.Client))
	}
	c := sdk.NewClient(opts...)
	a.sdk = &c
	return a.sdk
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return llm.Response{}, err
	}
	msg, err := a.client().Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, a.mapError(ctx, err)
	}
	return fromAnthropicResponse(a.Name(), msg, req.Model)
}

func (a *Adapter) buildParams(req llm.Request) (sdk.MessageNewParams, error) {
	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if strings.TrimSpace(system) != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	includeTools := len(req.Tools) > 0
	if req.ToolChoice != nil {
		switch strings.ToLower(strings.TrimSpace(req.ToolChoice.Mode)) {
		case "", "auto":
			if includeTools {
				params.ToolChoice = sdk.ToolChoiceUnionParam{OfAuto: &sdk.ToolChoiceAutoParam{}}
			}
		case "none":
			// Anthropic none mode is expressed by omitting tools entirely.
			includeTools = false
		case "required":
			if includeTools {
				params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
			}
		case "named":
			if strings.TrimSpace(req.ToolChoice.Name) == "" {
				return sdk.MessageNewParams{}, &llm.ConfigurationError{Message: "tool_choice mode=named requires name"}
			}
			if includeTools {
				params.ToolChoice = sdk.ToolChoiceUnionParam{OfTool: &sdk.ToolChoiceToolParam{Name: req.ToolChoice.Name}}
			}
		default:
			return sdk.MessageNewParams{}, &llm.ConfigurationError{Message: fmt.Sprintf("unsupported tool_choice mode %q", req.ToolChoice.Mode)}
		}
	}
	if includeTools {
		params.Tools = toAnthropicTools(req.Tools)
	}
	return params, nil
}

// toAnthropicMessages folds system messages into one system string and merges consecutive
// same-role turns, since the Messages API requires user and assistant turns to alternate.
// Tool results travel as user-role blocks.
func toAnthropicMessages(msgs []llm.Message) (string, []sdk.MessageParam, error) {
	var systemParts []string
	var out []sdk.MessageParam
	var role sdk.MessageParamRole
	var blocks []sdk.ContentBlockParamUnion

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		switch role {
		case sdk.MessageParamRoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			out = append(out, sdk.NewUserMessage(blocks...))
		}
		blocks = nil
	}
	push := func(r sdk.MessageParamRole, b ...sdk.ContentBlockParamUnion) {
		if len(b) == 0 {
			return
		}
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, b...)
	}

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if t := strings.TrimSpace(m.Text()); t != "" {
				systemParts = append(systemParts, t)
			}
		case llm.RoleUser:
			if t := m.Text(); t != "" {
				push(sdk.MessageParamRoleUser, sdk.NewTextBlock(t))
			}
		case llm.RoleAssistant:
			var b []sdk.ContentBlockParamUnion
			for _, p := range m.Content {
				switch p.Kind {
				case llm.ContentText:
					if p.Text != "" {
						b = append(b, sdk.NewTextBlock(p.Text))
					}
				case llm.ContentToolCall:
					if p.ToolCall == nil {
						continue
					}
					args := p.ToolCall.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					b = append(b, sdk.NewToolUseBlock(p.ToolCall.ID, args, p.ToolCall.Name))
				}
			}
			push(sdk.MessageParamRoleAssistant, b...)
		case llm.RoleTool:
			var b []sdk.ContentBlockParamUnion
			for _, p := range m.Content {
				if p.Kind != llm.ContentToolResult || p.ToolResult == nil {
					continue
				}
				b = append(b, sdk.NewToolResultBlock(p.ToolResult.ToolCallID, p.ToolResult.Content, p.ToolResult.IsError))
			}
			push(sdk.MessageParamRoleUser, b...)
		default:
			return "", nil, &llm.ConfigurationError{Message: fmt.Sprintf("unsupported message role %q", m.Role)}
		}
	}
	flush()
	if len(out) == 0 {
		return "", nil, &llm.ConfigurationError{Message: "anthropic requires at least one user message"}
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

func toAnthropicTools(defs []llm.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := sdk.ToolInputSchemaParam{}
		extra := map[string]any{}
		for k, v := range d.Parameters {
			switch k {
			case "type":
			case "properties":
				schema.Properties = v
			case "required":
				schema.Required = stringList(v)
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		tp := &sdk.ToolParam{Name: d.Name, InputSchema: schema}
		if strings.TrimSpace(d.Description) != "" {
			tp.Description = sdk.String(d.Description)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: tp})
	}
	return out
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fromAnthropicResponse(provider string, msg *sdk.Message, requestedModel string) (llm.Response, error) {
	if msg == nil {
		return llm.Response{}, llm.NewInvalidResponseError(provider, "empty response")
	}
	var text []string
	var calls []llm.ToolCallData
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			text = append(text, v.Text)
		case sdk.ToolUseBlock:
			args := json.RawMessage(v.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			var probe map[string]any
			if err := json.Unmarshal(args, &probe); err != nil {
				return llm.Response{}, llm.NewInvalidResponseError(provider,
					fmt.Sprintf("tool_use %q input is not a JSON object: %v", v.Name, err))
			}
			calls = append(calls, llm.ToolCallData{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}
	model := string(msg.Model)
	if model == "" {
		model = requestedModel
	}
	return llm.Response{
		ID:           msg.ID,
		Provider:     provider,
		Model:        model,
		Message:      llm.AssistantToolCalls(strings.Join(text, ""), calls...),
		FinishReason: finishReason(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:      int(msg.Usage.InputTokens),
			OutputTokens:     int(msg.Usage.OutputTokens),
			CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
		},
	}, nil
}

func finishReason(r sdk.StopReason) llm.FinishReason {
	switch r {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return llm.FinishStop
	case sdk.StopReasonToolUse:
		return llm.FinishToolCalls
	case sdk.StopReasonMaxTokens:
		return llm.FinishLength
	case "refusal":
		return llm.FinishContentFilter
	default:
		return llm.FinishOther
	}
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapError converts SDK failures into the llm error hierarchy. Context cancellation and
// deadlines pass through untouched so callers can report them as cancellation.
func (a *Adapter) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", a.Name(), ctxErr)
	}
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return err
	}
	raw := apierr.RawJSON()
	msg := strings.TrimSpace(raw)
	var body apiErrorBody
	if json.Unmarshal([]byte(raw), &body) == nil && strings.TrimSpace(body.Error.Message) != "" {
		msg = body.Error.Message
	}
	if msg == "" {
		msg = apierr.Error()
	}
	var retryAfter *time.Duration
	if apierr.Response != nil {
		retryAfter = llm.ParseRetryAfter(apierr.Response.Header.Get("Retry-After"), time.Now())
	}
	return llm.ErrorFromHTTPStatus(a.Name(), apierr.StatusCode, msg, raw, retryAfter)
}
