package rulestore

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDefaultSeed(t *testing.T) {
	s := New(nil)

	rules := s.Rules()
	if len(rules) != 3 {
		t.Fatalf("expected 3 default tiers, got %d", len(rules))
	}

	std, ok := rules["standard"]
	if !ok {
		t.Fatal("expected standard tier in defaults")
	}
	if std.Rate != 0.05 || std.Threshold != 0 {
		t.Errorf("unexpected standard policy: %+v", std)
	}

	ent, ok := rules["enterprise"]
	if !ok {
		t.Fatal("expected enterprise tier in defaults")
	}
	if ent.Rate != 0.10 || ent.Threshold != 500000 {
		t.Errorf("unexpected enterprise policy: %+v", ent)
	}
}

func TestAddRule(t *testing.T) {
	s := New(nil)

	t.Run("Success", func(t *testing.T) {
		msg, err := s.AddRule("platinum", 0.12, 750000)
		if err != nil {
			t.Fatalf("AddRule failed: %v", err)
		}
		if msg == "" {
			t.Error("expected confirmation message")
		}

		p, ok := s.Lookup("platinum")
		if !ok {
			t.Fatal("platinum tier not retrievable after add")
		}
		if p.Rate != 0.12 || p.Threshold != 750000 {
			t.Errorf("unexpected stored policy: %+v", p)
		}
	})

	t.Run("EmptyName", func(t *testing.T) {
		for _, name := range []string{"", "   ", "\t\n"} {
			if _, err := s.AddRule(name, 0.05, 0); !errors.Is(err, ErrEmptyTierName) {
				t.Errorf("AddRule(%q): expected ErrEmptyTierName, got %v", name, err)
			}
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		if _, err := s.AddRule("standard", 0.09, 0); !errors.Is(err, ErrDuplicateTier) {
			t.Errorf("expected ErrDuplicateTier, got %v", err)
		}
		// The existing policy must be untouched.
		p, _ := s.Lookup("standard")
		if p.Rate != 0.05 {
			t.Errorf("duplicate add mutated existing tier: %+v", p)
		}
	})
}

func TestRemoveRule(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s := New(nil)
		if _, err := s.RemoveRule("premium"); err != nil {
			t.Fatalf("RemoveRule failed: %v", err)
		}
		if _, ok := s.Lookup("premium"); ok {
			t.Error("premium still present after remove")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := New(nil)
		if _, err := s.RemoveRule("gold"); !errors.Is(err, ErrTierNotFound) {
			t.Errorf("expected ErrTierNotFound, got %v", err)
		}
	})

	t.Run("LastTierGuard", func(t *testing.T) {
		s := New(domain.PolicySet{"standard": {Rate: 0.05}})

		// The guard applies regardless of the name given.
		for _, name := range []string{"standard", "gold", ""} {
			if _, err := s.RemoveRule(name); !errors.Is(err, ErrLastTier) {
				t.Errorf("RemoveRule(%q): expected ErrLastTier, got %v", name, err)
			}
		}
		if s.Size() != 1 {
			t.Errorf("singleton store size changed: %d", s.Size())
		}
	})
}

// TestInvariantUnderMutationSequences drives a mixed add/remove sequence and
// asserts the store is never empty and never holds duplicate names.
func TestInvariantUnderMutationSequences(t *testing.T) {
	s := New(domain.PolicySet{"standard": {Rate: 0.05}})

	ops := []struct {
		add  bool
		name string
	}{
		{true, "a"}, {true, "b"}, {false, "standard"}, {true, "a"},
		{false, "a"}, {false, "b"}, {false, "missing"}, {true, "c"},
		{false, "c"}, {false, "c"},
	}

	for i, op := range ops {
		if op.add {
			s.AddRule(op.name, 0.05, 0)
		} else {
			s.RemoveRule(op.name)
		}

		if s.Size() == 0 {
			t.Fatalf("op %d: store became empty", i)
		}
		names := s.TierNames()
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if seen[n] {
				t.Fatalf("op %d: duplicate tier name %q", i, n)
			}
			seen[n] = true
		}
	}
}

func TestRulesReturnsCopy(t *testing.T) {
	s := New(nil)

	rules := s.Rules()
	rules["injected"] = domain.TierPolicy{Rate: 1.0}
	delete(rules, "standard")

	if _, ok := s.Lookup("injected"); ok {
		t.Error("mutating the returned map leaked into the store")
	}
	if _, ok := s.Lookup("standard"); !ok {
		t.Error("deleting from the returned map leaked into the store")
	}
}

func TestTierNamesSorted(t *testing.T) {
	s := New(nil)
	s.AddRule("alpha", 0.02, 0)

	names := s.TierNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("tier names not sorted: %v", names)
		}
	}
}
