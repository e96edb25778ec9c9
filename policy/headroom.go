package policy

import (
	"math"
	"sort"
	"sync"
)

const headroomWeightScale = 100

// HeadroomPolicy weights candidates by remaining request headroom using
// smooth weighted round-robin: a credential with twice the headroom is picked
// roughly twice as often, and consecutive selections do not pile onto one key.
type HeadroomPolicy struct {
	mu      sync.Mutex
	cursors map[string]*headroomCursor
}

type headroomCursor struct {
	current int
}

var _ Policy = (*HeadroomPolicy)(nil)

// NewHeadroomPolicy constructs a headroom-weighted policy.
func NewHeadroomPolicy() *HeadroomPolicy {
	return &HeadroomPolicy{cursors: make(map[string]*headroomCursor)}
}

// Select orders candidates with the smooth weighted round-robin winner first
// and the rest by headroom descending.
func (p *HeadroomPolicy) Select(candidates []Candidate) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	result := make([]Candidate, n)
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Headroom() > result[j].Headroom()
	})

	weights := make([]int, n)
	totalWeight := 0
	for i, c := range result {
		weights[i] = int(math.Round(c.Headroom() * headroomWeightScale))
		totalWeight += weights[i]
	}
	if totalWeight <= 0 {
		return result
	}

	p.mu.Lock()
	bestIdx := 0
	bestScore := 0
	bestScoreSet := false
	for i, c := range result {
		cursor := p.cursors[c.ID]
		if cursor == nil {
			cursor = &headroomCursor{}
			p.cursors[c.ID] = cursor
		}
		cursor.current += weights[i]
		if !bestScoreSet || cursor.current > bestScore {
			bestScore = cursor.current
			bestIdx = i
			bestScoreSet = true
		}
	}
	p.cursors[result[bestIdx].ID].current -= totalWeight

	// Drop cursor state for candidates that left the pool.
	if len(p.cursors) > n {
		live := make(map[string]struct{}, n)
		for _, c := range result {
			live[c.ID] = struct{}{}
		}
		for id := range p.cursors {
			if _, ok := live[id]; !ok {
				delete(p.cursors, id)
			}
		}
	}
	p.mu.Unlock()

	result[0], result[bestIdx] = result[bestIdx], result[0]
	return result
}
