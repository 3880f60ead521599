// Package rulestore owns the mutable tiered commission policy for a session.
package rulestore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Policy mutation errors. These are business-validation outcomes: callers
// decide how to surface them, nothing here panics.
var (
	ErrEmptyTierName = errors.New("tier name is required")
	ErrDuplicateTier = errors.New("tier already exists")
	ErrTierNotFound  = errors.New("tier not found")
	ErrLastTier      = errors.New("cannot remove the last tier: at least one commission tier must remain")
)

// Store holds the commission policy set for one session and guarantees the
// never-empty, unique-names invariant across all mutations.
//
// The store is safe for concurrent use; the HTTP surface means several
// handlers may touch one session's policies at once.
type Store struct {
	mu       sync.RWMutex
	policies domain.PolicySet
}

// New creates a store seeded with the given defaults. A nil or empty seed
// falls back to domain.DefaultPolicies so the invariant holds from birth.
func New(defaults domain.PolicySet) *Store {
	s := &Store{policies: make(domain.PolicySet)}
	if len(defaults) == 0 {
		defaults = domain.DefaultPolicies()
	}
	for name, p := range defaults {
		s.policies[name] = p
	}
	return s
}

// Rules returns a snapshot copy of the live policy set. Mutations must go
// through AddRule/RemoveRule so the store can enforce its invariants.
func (s *Store) Rules() domain.PolicySet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(domain.PolicySet, len(s.policies))
	for name, p := range s.policies {
		out[name] = p
	}
	return out
}

// Lookup returns the policy for a tier name.
func (s *Store) Lookup(tierName string) (domain.TierPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[tierName]
	return p, ok
}

// AddRule inserts a new tier policy. It fails with ErrEmptyTierName when
// the name is empty or whitespace-only and with ErrDuplicateTier when the
// name is already present. On success it returns a confirmation message
// naming the tier.
func (s *Store) AddRule(tierName string, rate float64, threshold int64) (string, error) {
	if strings.TrimSpace(tierName) == "" {
		return "", ErrEmptyTierName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[tierName]; exists {
		return "", fmt.Errorf("%w: %q", ErrDuplicateTier, tierName)
	}

	s.policies[tierName] = domain.TierPolicy{Rate: rate, Threshold: threshold}
	return fmt.Sprintf("added tier %q", tierName), nil
}

// RemoveRule deletes a tier policy. The last remaining tier can never be
// removed, regardless of the name given.
func (s *Store) RemoveRule(tierName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.policies) <= 1 {
		return "", ErrLastTier
	}
	if _, exists := s.policies[tierName]; !exists {
		return "", fmt.Errorf("%w: %q", ErrTierNotFound, tierName)
	}

	delete(s.policies, tierName)
	return fmt.Sprintf("removed tier %q", tierName), nil
}

// TierNames returns all current tier names, sorted for stable presentation.
func (s *Store) TierNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the number of tiers in the store.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}
