package agenterr

import (
	"errors"
	"strings"

	"github.com/danshapiro/typedagent/internal/llm"
)

// Classify maps a model collaborator failure onto the model category of the taxonomy.
// Errors that already carry a *Error are returned as is.
func Classify(err error, provider string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	var le llm.Error
	if errors.As(err, &le) && strings.TrimSpace(le.Provider()) != "" {
		provider = le.Provider()
	}
	switch {
	case llm.IsRateLimitError(err):
		if ra := le.RetryAfter(); ra != nil {
			return RateLimit(provider, *ra)
		}
		return RateLimit(provider, 0)
	case llm.IsContextLengthError(err):
		return TokenLimitExceeded(provider, llm.MessageOf(err))
	case llm.IsInvalidResponseError(err):
		return InvalidResponse(provider, llm.MessageOf(err))
	}
	status := 0
	if le != nil {
		status = le.StatusCode()
	}
	return APIError(provider, status, llm.MessageOf(err))
}
