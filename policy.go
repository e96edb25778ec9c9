package keywheel

import "github.com/keywheel/keywheel/policy"

// Policy orders candidates for selection. See the policy package for the
// contract and the provided implementations.
type Policy = policy.Policy

// Candidate is one selectable credential with its current request headroom.
type Candidate = policy.Candidate
