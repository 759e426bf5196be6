package execution

// TokenMetrics accumulates token usage over one execution. Counts only ever grow.
type TokenMetrics struct {
	Input              int `json:"input"`
	Output             int `json:"output"`
	CacheCreationInput int `json:"cacheCreationInput,omitempty"`
	CacheReadInput     int `json:"cacheReadInput,omitempty"`
}

// Add returns m plus other. Negative counts in other are ignored.
func (m TokenMetrics) Add(other TokenMetrics) TokenMetrics {
	m.Input += nonNegative(other.Input)
	m.Output += nonNegative(other.Output)
	m.CacheCreationInput += nonNegative(other.CacheCreationInput)
	m.CacheReadInput += nonNegative(other.CacheReadInput)
	return m
}

func (m TokenMetrics) Total() int {
	return m.Input + m.Output + m.CacheCreationInput + m.CacheReadInput
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
