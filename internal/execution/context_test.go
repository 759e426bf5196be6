package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	c := New(3, 15)
	assert.Equal(t, Context{Attempt: 1, MaxAttempts: 3, Iteration: 0, MaxIterations: 15}, c)
	assert.True(t, c.Live())
	assert.False(t, c.IsRetry())
	assert.False(t, c.LastAttempt())
}

func TestAdvanceReturnsCopies(t *testing.T) {
	c := New(2, 2)
	i1 := c.NextIteration()
	i2 := i1.NextIteration()
	assert.Equal(t, 0, c.Iteration)
	assert.Equal(t, 1, i1.Iteration)
	assert.Equal(t, 2, i2.Iteration)
	assert.True(t, i2.Live())
	assert.False(t, i2.NextIteration().Live())

	a2 := i2.NextAttempt()
	assert.Equal(t, 2, a2.Attempt)
	assert.Equal(t, 0, a2.Iteration)
	assert.Equal(t, 1, i2.Attempt)
	assert.True(t, a2.IsRetry())
	assert.True(t, a2.LastAttempt())
	assert.False(t, a2.NextAttempt().Live())
}

func TestTokenMetricsAdd(t *testing.T) {
	var m TokenMetrics
	m = m.Add(TokenMetrics{Input: 10, Output: 4})
	m = m.Add(TokenMetrics{Input: 5, Output: 1, CacheCreationInput: 2, CacheReadInput: 3})
	m = m.Add(TokenMetrics{Input: -100})
	assert.Equal(t, TokenMetrics{Input: 15, Output: 5, CacheCreationInput: 2, CacheReadInput: 3}, m)
	assert.Equal(t, 25, m.Total())
}
