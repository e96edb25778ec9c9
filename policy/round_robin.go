package policy

import "sync"

// RoundRobinPolicy rotates the starting candidate on every selection so
// traffic spreads evenly across the pool instead of starving idle keys.
type RoundRobinPolicy struct {
	mu   sync.Mutex
	next int
}

var _ Policy = (*RoundRobinPolicy)(nil)

// Select returns the candidates rotated by the policy's cursor.
func (p *RoundRobinPolicy) Select(candidates []Candidate) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	p.mu.Lock()
	start := p.next % n
	p.next++
	p.mu.Unlock()

	result := make([]Candidate, 0, n)
	result = append(result, candidates[start:]...)
	result = append(result, candidates[:start]...)
	return result
}
