package agenterr

// ExecutionError is raised at the outermost integration boundary. It carries every
// structured error of a failed execution for inspection.
type ExecutionError struct {
	Errors []*Error
}

func NewExecutionError(errs ...*Error) *ExecutionError {
	out := make([]*Error, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return &ExecutionError{Errors: out}
}

func (e *ExecutionError) Error() string { return FormatAll(e.Errors) }

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, x := range e.Errors {
		out = append(out, x)
	}
	return out
}

// Primary returns the first error-severity entry, or nil when only warnings were recorded.
func (e *ExecutionError) Primary() *Error {
	for _, x := range e.Errors {
		if x.Severity == SeverityError {
			return x
		}
	}
	return nil
}
