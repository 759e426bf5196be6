package agenterr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxValueLength caps every untrusted value interpolated into a message.
const MaxValueLength = 100

const unserializable = "[unserializable]"

// Truncate renders v as a string of at most MaxValueLength runes, appending "..." when cut.
// Non-string values are JSON encoded, falling back to %v, falling back to a fixed marker
// when stringification itself panics.
func Truncate(v any) string {
	s := stringify(v)
	r := []rune(s)
	if len(r) <= MaxValueLength {
		return s
	}
	return string(r[:MaxValueLength]) + "..."
}

func stringify(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = unserializable
		}
	}()
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// Message renders the human message for e from its code and context alone.
func Message(e *Error) string {
	if e == nil {
		return ""
	}
	switch c := e.Context.(type) {
	case PromptGenerationFailedContext:
		return fmt.Sprintf("Failed to generate %s prompt on attempt %d: %s", c.PromptType, c.Attempt, Truncate(c.Reason))
	case ValidationFailedContext:
		return fmt.Sprintf("Validation failed in layer %q: %s", c.Layer, Truncate(c.Reason))
	case MaxAttemptsExceededContext:
		return fmt.Sprintf("Exceeded maximum attempts (%d/%d). Last error: %s", c.Attempts, c.MaxAttempts, Truncate(c.LastError))
	case MaxIterationsExceededContext:
		return fmt.Sprintf("Exceeded maximum iterations (%d of %d allowed) without calling the output tool", c.IterationCount, c.MaxIterations)
	case ExecutionCancelledContext:
		return fmt.Sprintf("Execution cancelled during %s on attempt %d", c.Phase, c.Attempt)
	case OutputToolNotUsedContext:
		return fmt.Sprintf("Model stopped on attempt %d without calling the output tool %q", c.Attempt, c.ToolName)
	case SubmitBeforeOutputContext:
		return fmt.Sprintf("Model called %q before %q (attempt %d, iteration %d)", c.SubmitTool, c.OutputTool, c.Attempt, c.Iteration)
	case APIErrorContext:
		if c.StatusCode > 0 {
			return fmt.Sprintf("Model API error from %s (status %d): %s", providerLabel(c.Provider), c.StatusCode, Truncate(c.Message))
		}
		return fmt.Sprintf("Model API error from %s: %s", providerLabel(c.Provider), Truncate(c.Message))
	case RateLimitContext:
		if c.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded for %s, retry after %s", providerLabel(c.Provider), c.RetryAfter)
		}
		return fmt.Sprintf("Rate limit exceeded for %s", providerLabel(c.Provider))
	case TokenLimitExceededContext:
		return fmt.Sprintf("Token limit exceeded for %s: %s", providerLabel(c.Provider), Truncate(c.Message))
	case InvalidResponseContext:
		return fmt.Sprintf("Invalid response from %s: %s", providerLabel(c.Provider), Truncate(c.Reason))
	case EmptyNameContext:
		return fmt.Sprintf("%s must not be empty", c.Field)
	case EmptyDescriptionContext:
		return fmt.Sprintf("%s must not be empty", c.Field)
	case InvalidMaxAttemptsContext:
		return fmt.Sprintf("maxAttempts must be at least 1, got %d", c.Value)
	case InvalidMaxIterationsContext:
		return fmt.Sprintf("maxIterations must be at least 1, got %d", c.Value)
	case InvalidTemperatureContext:
		return fmt.Sprintf("temperature must be between 0 and 1, got %g", c.Value)
	case InvalidMaxTokensContext:
		return fmt.Sprintf("maxTokens must be at least 1, got %d", c.Value)
	case MissingOutputSchemaContext:
		return "Output schema is required"
	case MissingPromptContext:
		return fmt.Sprintf("%s prompt generator is required", c.PromptType)
	case DuplicateToolNameContext:
		return fmt.Sprintf("Tool name %q is used more than once", c.Name)
	case LoggingFailedContext:
		return fmt.Sprintf("Observability sink %q failed: %s", c.Sink, Truncate(c.Reason))
	default:
		return string(e.Code)
	}
}

func providerLabel(p string) string {
	if strings.TrimSpace(p) == "" {
		return "provider"
	}
	return p
}

// Format renders e on one line with its path and suggestion appended.
func Format(e *Error) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(Message(e))
	if e.Path != "" {
		b.WriteString(" (at ")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Suggestion != "" {
		b.WriteString(". Suggestion: ")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

// FormatAll renders errs as bulleted developer text, errors before warnings.
func FormatAll(errs []*Error) string {
	var errorLines, warningLines []string
	for _, e := range errs {
		if e == nil {
			continue
		}
		line := "  - " + Format(e)
		if e.Severity == SeverityWarning {
			warningLines = append(warningLines, line)
			continue
		}
		errorLines = append(errorLines, line)
	}
	var sections []string
	if len(errorLines) > 0 {
		sections = append(sections, "Errors:\n"+strings.Join(errorLines, "\n"))
	}
	if len(warningLines) > 0 {
		sections = append(sections, "Warnings:\n"+strings.Join(warningLines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// FormatForModel renders e as feedback for the next attempt's error prompt.
func FormatForModel(e *Error) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous output was rejected.\n")
	b.WriteString("Problem: ")
	b.WriteString(Message(e))
	b.WriteString("\n")
	if e.Path != "" {
		b.WriteString("Location: ")
		b.WriteString(e.Path)
		b.WriteString("\n")
	}
	if vc, ok := e.Context.(ValidationFailedContext); ok && len(vc.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, is := range vc.Issues {
			b.WriteString("- ")
			if is.Path != "" {
				b.WriteString(is.Path)
				b.WriteString(": ")
			}
			b.WriteString(Truncate(is.Message))
			b.WriteString("\n")
		}
	}
	if e.Suggestion != "" {
		b.WriteString("Suggestion: ")
		b.WriteString(e.Suggestion)
		b.WriteString("\n")
	}
	b.WriteString("Correct these problems and call the output tool again.")
	return b.String()
}
