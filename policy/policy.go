// Package policy provides the candidate-ordering policies keywheel spreads
// load with.
package policy

// Policy orders candidates for selection. The manager tries candidates in the
// returned order and takes the first one whose quota reservation is granted,
// so a policy that always returns the same ordering starves the tail of the
// pool.
type Policy interface {
	// Select orders candidates by priority, highest first.
	Select(candidates []Candidate) []Candidate
}

// Candidate is one selectable credential with its current request headroom.
type Candidate struct {
	ID       string
	Provider string
	Tier     string

	RequestLimit int64 // rpm limit, 0 = unlimited
	RequestsUsed int64 // used in the current minute window
}

// Headroom returns the fraction of the request window still unused, in [0, 1].
// Unlimited credentials report full headroom.
func (c Candidate) Headroom() float64 {
	if c.RequestLimit <= 0 {
		return 1
	}
	remaining := c.RequestLimit - c.RequestsUsed
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / float64(c.RequestLimit)
}
