package agenterr

import (
	"errors"
	"time"
)

// Error is a structured failure. The Context's concrete type is fixed by Code.
// Values are built through the constructors in this package and never modified afterwards;
// WithPath and WithSuggestion return copies.
type Error struct {
	Code       Code     `json:"code"`
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Path       string   `json:"path,omitempty"`
	Context    Context  `json:"context"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (e *Error) Error() string { return Format(e) }

// Retryable reports whether the orchestrator may start another attempt after e.
func (e *Error) Retryable() bool {
	return e != nil && e.Code == CodeValidationFailed
}

// Terminal is the complement of Retryable.
func (e *Error) Terminal() bool { return !e.Retryable() }

func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

func (e *Error) WithSuggestion(s string) *Error {
	cp := *e
	cp.Suggestion = s
	return &cp
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// Is matches any *Error with the same code, so errors.Is can search a joined tree by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.Code == e.Code
}

// IsCode reports whether err's chain carries a *Error with the given code.
func IsCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// Context is the closed set of per-code context records.
type Context interface {
	code() Code
}

// Issue is one schema or rule violation inside a VALIDATION_FAILED context.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type PromptGenerationFailedContext struct {
	PromptType PromptType `json:"promptType"`
	Reason     string     `json:"reason"`
	Attempt    int        `json:"attempt"`
}

type ValidationFailedContext struct {
	Layer  string  `json:"layer"`
	Reason string  `json:"reason"`
	Issues []Issue `json:"issues,omitempty"`
}

type MaxAttemptsExceededContext struct {
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	LastError   string `json:"lastError"`
}

type MaxIterationsExceededContext struct {
	IterationCount int `json:"iterationCount"`
	MaxIterations  int `json:"maxIterations"`
}

type ExecutionCancelledContext struct {
	Attempt int   `json:"attempt"`
	Phase   Phase `json:"phase"`
}

type OutputToolNotUsedContext struct {
	Attempt  int    `json:"attempt"`
	ToolName string `json:"toolName"`
}

type SubmitBeforeOutputContext struct {
	Attempt    int    `json:"attempt"`
	Iteration  int    `json:"iteration"`
	SubmitTool string `json:"submitTool"`
	OutputTool string `json:"outputTool"`
}

type APIErrorContext struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
}

type RateLimitContext struct {
	Provider   string        `json:"provider"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

type TokenLimitExceededContext struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

type InvalidResponseContext struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

type EmptyNameContext struct {
	Field string `json:"field"`
}

type EmptyDescriptionContext struct {
	Field string `json:"field"`
}

type InvalidMaxAttemptsContext struct {
	Value int `json:"value"`
}

type InvalidMaxIterationsContext struct {
	Value int `json:"value"`
}

type InvalidTemperatureContext struct {
	Value float64 `json:"value"`
}

type InvalidMaxTokensContext struct {
	Value int `json:"value"`
}

type MissingOutputSchemaContext struct{}

type MissingPromptContext struct {
	PromptType PromptType `json:"promptType"`
}

type DuplicateToolNameContext struct {
	Name string `json:"name"`
}

type LoggingFailedContext struct {
	Sink   string `json:"sink"`
	Reason string `json:"reason"`
}

func (PromptGenerationFailedContext) code() Code { return CodePromptGenerationFailed }
func (ValidationFailedContext) code() Code       { return CodeValidationFailed }
func (MaxAttemptsExceededContext) code() Code    { return CodeMaxAttemptsExceeded }
func (MaxIterationsExceededContext) code() Code  { return CodeMaxIterationsExceeded }
func (ExecutionCancelledContext) code() Code     { return CodeExecutionCancelled }
func (OutputToolNotUsedContext) code() Code      { return CodeOutputToolNotUsed }
func (SubmitBeforeOutputContext) code() Code     { return CodeSubmitBeforeOutput }
func (APIErrorContext) code() Code               { return CodeAPIError }
func (RateLimitContext) code() Code              { return CodeRateLimitError }
func (TokenLimitExceededContext) code() Code     { return CodeTokenLimitExceeded }
func (InvalidResponseContext) code() Code        { return CodeInvalidResponse }
func (EmptyNameContext) code() Code              { return CodeEmptyName }
func (EmptyDescriptionContext) code() Code       { return CodeEmptyDescription }
func (InvalidMaxAttemptsContext) code() Code     { return CodeInvalidMaxAttempts }
func (InvalidMaxIterationsContext) code() Code   { return CodeInvalidMaxIterations }
func (InvalidTemperatureContext) code() Code     { return CodeInvalidTemperature }
func (InvalidMaxTokensContext) code() Code       { return CodeInvalidMaxTokens }
func (MissingOutputSchemaContext) code() Code    { return CodeMissingOutputSchema }
func (MissingPromptContext) code() Code          { return CodeMissingPrompt }
func (DuplicateToolNameContext) code() Code      { return CodeDuplicateToolName }
func (LoggingFailedContext) code() Code          { return CodeLoggingFailed }

func newError(ctx Context, suggestion string) *Error {
	c := ctx.code()
	return &Error{
		Code:       c,
		Severity:   c.Severity(),
		Category:   c.Category(),
		Context:    ctx,
		Suggestion: suggestion,
	}
}

func PromptGenerationFailed(promptType PromptType, reason string, attempt int) *Error {
	return newError(PromptGenerationFailedContext{
		PromptType: promptType,
		Reason:     reason,
		Attempt:    attempt,
	}, "Check the "+string(promptType)+" prompt generator for errors.")
}

// ValidationFailed builds a VALIDATION_FAILED error. Path is taken from the first issue
// that has one.
func ValidationFailed(layer, reason string, issues ...Issue) *Error {
	var cp []Issue
	if len(issues) > 0 {
		cp = append([]Issue(nil), issues...)
	}
	e := newError(ValidationFailedContext{Layer: layer, Reason: reason, Issues: cp},
		"Ensure the output satisfies the "+layer+" layer.")
	for _, is := range cp {
		if is.Path != "" {
			e.Path = is.Path
			break
		}
	}
	return e
}

func MaxAttemptsExceeded(attempts, maxAttempts int, lastError string) *Error {
	return newError(MaxAttemptsExceededContext{
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   lastError,
	}, "Inspect the last error, then adjust the prompts or relax the validators.")
}

func MaxIterationsExceeded(iterationCount, maxIterations int) *Error {
	return newError(MaxIterationsExceededContext{
		IterationCount: iterationCount,
		MaxIterations:  maxIterations,
	}, "Raise the iteration budget or instruct the model to call the output tool sooner.")
}

func Cancelled(attempt int, phase Phase) *Error {
	return newError(ExecutionCancelledContext{Attempt: attempt, Phase: phase}, "")
}

func OutputToolNotUsed(attempt int, toolName string) *Error {
	return newError(OutputToolNotUsedContext{Attempt: attempt, ToolName: toolName},
		"Instruct the model to return its result by calling the \""+toolName+"\" tool.")
}

func SubmitBeforeOutput(attempt, iteration int, submitTool, outputTool string) *Error {
	return newError(SubmitBeforeOutputContext{
		Attempt:    attempt,
		Iteration:  iteration,
		SubmitTool: submitTool,
		OutputTool: outputTool,
	}, "The \""+outputTool+"\" tool must be called before \""+submitTool+"\".")
}

func APIError(provider string, statusCode int, message string) *Error {
	return newError(APIErrorContext{Provider: provider, StatusCode: statusCode, Message: message}, "")
}

func RateLimit(provider string, retryAfter time.Duration) *Error {
	return newError(RateLimitContext{Provider: provider, RetryAfter: retryAfter},
		"Reduce request rate or retry later.")
}

func TokenLimitExceeded(provider, message string) *Error {
	return newError(TokenLimitExceededContext{Provider: provider, Message: message},
		"Shorten the prompts or raise max tokens.")
}

func InvalidResponse(provider, reason string) *Error {
	return newError(InvalidResponseContext{Provider: provider, Reason: reason}, "")
}

func EmptyName(field string) *Error {
	return newError(EmptyNameContext{Field: field}, "Provide a non-empty name.")
}

func EmptyDescription(field string) *Error {
	return newError(EmptyDescriptionContext{Field: field}, "Provide a non-empty description.")
}

func InvalidMaxAttempts(v int) *Error {
	return newError(InvalidMaxAttemptsContext{Value: v}, "maxAttempts must be at least 1.")
}

func InvalidMaxIterations(v int) *Error {
	return newError(InvalidMaxIterationsContext{Value: v}, "maxIterations must be at least 1.")
}

func InvalidTemperature(v float64) *Error {
	return newError(InvalidTemperatureContext{Value: v}, "temperature must be between 0 and 1.")
}

func InvalidMaxTokens(v int) *Error {
	return newError(InvalidMaxTokensContext{Value: v}, "maxTokens must be at least 1.")
}

func MissingOutputSchema() *Error {
	return newError(MissingOutputSchemaContext{}, "Set validation.outputSchema.")
}

func MissingPrompt(pt PromptType) *Error {
	return newError(MissingPromptContext{PromptType: pt}, "Provide a "+string(pt)+" prompt generator.")
}

func DuplicateToolName(name string) *Error {
	return newError(DuplicateToolNameContext{Name: name}, "Tool names must be unique.")
}

func LoggingFailed(sink, reason string) *Error {
	return newError(LoggingFailedContext{Sink: sink, Reason: reason}, "")
}
