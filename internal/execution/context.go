// Package execution describes where an orchestrated run currently is and what it has
// consumed so far.
package execution

// Context locates the orchestrator within its budgets. It is a value type: only the
// orchestrator advances it, and every other component receives a copy.
type Context struct {
	Attempt       int `json:"attempt"`
	MaxAttempts   int `json:"maxAttempts"`
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"maxIterations"`
}

// New returns the context for the first attempt, before its first iteration.
func New(maxAttempts, maxIterations int) Context {
	return Context{Attempt: 1, MaxAttempts: maxAttempts, Iteration: 0, MaxIterations: maxIterations}
}

// NextAttempt starts a fresh attempt with the iteration counter reset.
func (c Context) NextAttempt() Context {
	c.Attempt++
	c.Iteration = 0
	return c
}

func (c Context) NextIteration() Context {
	c.Iteration++
	return c
}

// Live reports whether both counters are within budget.
func (c Context) Live() bool {
	return c.Attempt >= 1 && c.Attempt <= c.MaxAttempts && c.Iteration >= 0 && c.Iteration <= c.MaxIterations
}

func (c Context) IsRetry() bool { return c.Attempt > 1 }

func (c Context) LastAttempt() bool { return c.Attempt >= c.MaxAttempts }
