package ratelimit

import (
	"fmt"
	"time"

	"github.com/okian/trustgate/internal/domain/types"
)

// Policy caps attempts per identifier inside a trailing window.
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Name == "" || p.MaxRequests <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidPolicy, p)
	}
	return nil
}

// Policies maps endpoint classes to their policy.
type Policies map[types.Endpoint]Policy

// DefaultPolicies returns the built-in limits.
func DefaultPolicies() Policies {
	return Policies{
		types.EndpointContact:      {Name: "contact", MaxRequests: 3, Window: time.Hour},
		types.EndpointConsultation: {Name: "consultation", MaxRequests: 2, Window: time.Hour},
		types.EndpointWizard:       {Name: "wizard", MaxRequests: 2, Window: time.Hour},
		types.EndpointShowing:      {Name: "showing", MaxRequests: 3, Window: time.Hour},
		types.EndpointGeneral:      {Name: "general", MaxRequests: 30, Window: time.Minute},
	}
}

// For returns the policy of an endpoint class.
func (ps Policies) For(e types.Endpoint) (Policy, error) {
	p, ok := ps[e]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, e)
	}
	return p, nil
}

// Override replaces max and window of the named policy. Unknown names are an error.
func (ps Policies) Override(name string, maxRequests int, window time.Duration) error {
	for e, p := range ps {
		if p.Name != name {
			continue
		}
		p.MaxRequests, p.Window = maxRequests, window
		if err := p.Validate(); err != nil {
			return err
		}
		ps[e] = p
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
}
