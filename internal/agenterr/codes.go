// Package agenterr defines the structured error taxonomy shared by the execution core.
//
// Every failure is identified by exactly one Code. The code fixes the error's Category,
// Severity and the shape of its Context, so a message can be rebuilt from the context alone
// for developer logs and for the feedback prompt sent back to the model.
package agenterr

// Code identifies one failure condition.
type Code string

const (
	// Runtime execution codes.

	CodePromptGenerationFailed Code = "PROMPT_GENERATION_FAILED"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeMaxAttemptsExceeded    Code = "MAX_ATTEMPTS_EXCEEDED"
	CodeMaxIterationsExceeded  Code = "MAX_ITERATIONS_EXCEEDED"
	CodeExecutionCancelled     Code = "EXECUTION_CANCELLED"
	CodeOutputToolNotUsed      Code = "OUTPUT_TOOL_NOT_USED"
	CodeSubmitBeforeOutput     Code = "SUBMIT_BEFORE_OUTPUT"

	// Model collaborator codes.

	CodeAPIError           Code = "API_ERROR"
	CodeRateLimitError     Code = "RATE_LIMIT_ERROR"
	CodeTokenLimitExceeded Code = "TOKEN_LIMIT_EXCEEDED"
	CodeInvalidResponse    Code = "INVALID_RESPONSE"

	// Build-time definition codes. These never occur mid-execution.

	CodeEmptyName            Code = "EMPTY_NAME"
	CodeEmptyDescription     Code = "EMPTY_DESCRIPTION"
	CodeInvalidMaxAttempts   Code = "INVALID_MAX_ATTEMPTS"
	CodeInvalidMaxIterations Code = "INVALID_MAX_ITERATIONS"
	CodeInvalidTemperature   Code = "INVALID_TEMPERATURE"
	CodeInvalidMaxTokens     Code = "INVALID_MAX_TOKENS"
	CodeMissingOutputSchema  Code = "MISSING_OUTPUT_SCHEMA"
	CodeMissingPrompt        Code = "MISSING_PROMPT"
	CodeDuplicateToolName    Code = "DUPLICATE_TOOL_NAME"

	// Observability codes.

	CodeLoggingFailed Code = "LOGGING_FAILED"
)

// Category groups codes by the subsystem that produced them.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryExecution     Category = "execution"
	CategoryModel         Category = "model"
	CategoryObservability Category = "observability"
)

// Severity distinguishes failures from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Phase names the suspension point at which cancellation was observed.
type Phase string

const (
	PhasePromptGeneration Phase = "prompt_generation"
	PhaseValidation       Phase = "validation"
	PhaseAPICall          Phase = "api_call"
	PhaseIteration        Phase = "iteration"
)

// PromptType names one of the three user-supplied prompt generators.
type PromptType string

const (
	PromptSystem PromptType = "system"
	PromptUser   PromptType = "user"
	PromptError  PromptType = "error"
)

type codeInfo struct {
	category Category
	severity Severity
}

var codes = map[Code]codeInfo{
	CodePromptGenerationFailed: {CategoryExecution, SeverityError},
	CodeValidationFailed:       {CategoryValidation, SeverityError},
	CodeMaxAttemptsExceeded:    {CategoryExecution, SeverityError},
	CodeMaxIterationsExceeded:  {CategoryExecution, SeverityError},
	CodeExecutionCancelled:     {CategoryExecution, SeverityError},
	CodeOutputToolNotUsed:      {CategoryExecution, SeverityError},
	CodeSubmitBeforeOutput:     {CategoryExecution, SeverityError},
	CodeAPIError:               {CategoryModel, SeverityError},
	CodeRateLimitError:         {CategoryModel, SeverityError},
	CodeTokenLimitExceeded:     {CategoryModel, SeverityError},
	CodeInvalidResponse:        {CategoryModel, SeverityError},
	CodeEmptyName:              {CategoryValidation, SeverityError},
	CodeEmptyDescription:       {CategoryValidation, SeverityError},
	CodeInvalidMaxAttempts:     {CategoryValidation, SeverityError},
	CodeInvalidMaxIterations:   {CategoryValidation, SeverityError},
	CodeInvalidTemperature:     {CategoryValidation, SeverityError},
	CodeInvalidMaxTokens:       {CategoryValidation, SeverityError},
	CodeMissingOutputSchema:    {CategoryValidation, SeverityError},
	CodeMissingPrompt:          {CategoryValidation, SeverityError},
	CodeDuplicateToolName:      {CategoryValidation, SeverityError},
	CodeLoggingFailed:          {CategoryObservability, SeverityWarning},
}

// Codes returns every known code in declaration-stable order.
func Codes() []Code {
	return []Code{
		CodePromptGenerationFailed,
		CodeValidationFailed,
		CodeMaxAttemptsExceeded,
		CodeMaxIterationsExceeded,
		CodeExecutionCancelled,
		CodeOutputToolNotUsed,
		CodeSubmitBeforeOutput,
		CodeAPIError,
		CodeRateLimitError,
		CodeTokenLimitExceeded,
		CodeInvalidResponse,
		CodeEmptyName,
		CodeEmptyDescription,
		CodeInvalidMaxAttempts,
		CodeInvalidMaxIterations,
		CodeInvalidTemperature,
		CodeInvalidMaxTokens,
		CodeMissingOutputSchema,
		CodeMissingPrompt,
		CodeDuplicateToolName,
		CodeLoggingFailed,
	}
}

// Category reports the category fixed for c.
func (c Code) Category() Category { return codes[c].category }

// Severity reports the severity fixed for c.
func (c Code) Severity() Severity { return codes[c].severity }

// Known reports whether c is part of the taxonomy.
func (c Code) Known() bool {
	_, ok := codes[c]
	return ok
}
