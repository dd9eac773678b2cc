package ratelimit

import (
	"fmt"
	"time"
)

// PolicyClass names a family of endpoints that share one quota.
type PolicyClass string

const (
	ClassGeneral        PolicyClass = "general"
	ClassAuth           PolicyClass = "auth"
	ClassLocationUpdate PolicyClass = "location-update"
)

// Policy is the fixed configuration of one class.
type Policy struct {
	Window      time.Duration
	MaxRequests int
	Message     string
}

func (p Policy) validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", p.MaxRequests)
	}
	return nil
}

// Policies maps each class to its policy. It is read once at startup.
type Policies map[PolicyClass]Policy

// DefaultPolicies returns the three built-in classes.
func DefaultPolicies() Policies {
	return Policies{
		ClassGeneral: {
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "Too many requests from this IP, please try again later.",
		},
		ClassAuth: {
			Window:      60 * time.Minute,
			MaxRequests: 10,
			Message:     "Too many authentication attempts, please try again later.",
		},
		ClassLocationUpdate: {
			Window:      60 * time.Second,
			MaxRequests: 30,
			Message:     "Too many location updates, please slow down.",
		},
	}
}

// Validate checks every policy in p.
func (p Policies) Validate() error {
	for class, policy := range p {
		if err := policy.validate(); err != nil {
			return fmt.Errorf("policy %q: %w", class, err)
		}
	}
	return nil
}
