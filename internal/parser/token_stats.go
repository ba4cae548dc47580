package parser

import "time"

// TokenStats tracks generation speed from cumulative token counts reported by the backend
type TokenStats struct {
	startedAt   time.Time
	totalTokens int
	now         func() time.Time
}

// NewTokenStats starts measuring from now
func NewTokenStats() *TokenStats {
	return &TokenStats{startedAt: time.Now(), now: time.Now}
}

// Update records the cumulative token count
func (s *TokenStats) Update(total int) {
	s.totalTokens = total
}

// TokensPerSecond returns the average rate since the last Reset
func (s *TokenStats) TokensPerSecond() float64 {
	elapsed := s.now().Sub(s.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.totalTokens) / elapsed
}

// Reset restarts the measurement
func (s *TokenStats) Reset() {
	s.startedAt = s.now()
	s.totalTokens = 0
}
