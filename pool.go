package keywheel

// Descriptor is the immutable description of one credential. Descriptors are
// created from configuration at startup and never mutated.
type Descriptor struct {
	ID       string
	Provider string
	Tier     string
	RPMLimit int64 // 0 = unlimited
	TPMLimit int64
	RPDLimit int64
	Tags     []string
}

// Limit returns the configured limit for the resource, 0 meaning unlimited.
func (d Descriptor) Limit(r Resource) int64 {
	switch r {
	case ResourceRequests:
		return d.RPMLimit
	case ResourceTokens:
		return d.TPMLimit
	case ResourceDaily:
		return d.RPDLimit
	}
	return 0
}

// Matches reports whether the descriptor satisfies a tier/tag preference.
// An empty preference matches every credential.
func (d Descriptor) Matches(preference string) bool {
	if preference == "" || preference == d.Tier {
		return true
	}
	for _, tag := range d.Tags {
		if tag == preference {
			return true
		}
	}
	return false
}

// Pool holds the credential descriptors for the process lifetime.
type Pool struct {
	descriptors []Descriptor
	byID        map[string]Descriptor
}

// NewPool builds a Pool from validated configuration.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		descriptors: make([]Descriptor, 0, len(cfg.Credentials)),
		byID:        make(map[string]Descriptor, len(cfg.Credentials)),
	}
	for _, cred := range cfg.Credentials {
		d := Descriptor{
			ID:       cred.ID,
			Provider: cred.Provider,
			Tier:     cred.Tier,
			RPMLimit: cred.RPMLimit,
			TPMLimit: cred.TPMLimit,
			RPDLimit: cred.RPDLimit,
			Tags:     append([]string(nil), cred.Tags...),
		}
		p.descriptors = append(p.descriptors, d)
		p.byID[d.ID] = d
	}
	return p, nil
}

// Filter returns the descriptors matching the preference, minus the excluded ids.
func (p *Pool) Filter(preference string, exclude []string) []Descriptor {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var out []Descriptor
	for _, d := range p.descriptors {
		if excluded[d.ID] || !d.Matches(preference) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Get returns the descriptor for the id.
func (p *Pool) Get(id string) (Descriptor, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// Descriptors returns all descriptors in configuration order.
func (p *Pool) Descriptors() []Descriptor {
	out := make([]Descriptor, len(p.descriptors))
	copy(out, p.descriptors)
	return out
}

// Len returns the pool size.
func (p *Pool) Len() int { return len(p.descriptors) }
