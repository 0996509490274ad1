package statechain

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func buildModifyFixture(t *testing.T) *Chain[*Bag] {
	t.Helper()
	chain := NewChain(testChain)
	mustAdd(t, chain, doAlpha, WithName(alpha))
	mustAdd(t, chain, doBeta, WithName(beta), WithAlias(aliasOne))
	mustAdd(t, chain, doGamma, WithName(gamma))
	return chain
}

func TestModify(t *testing.T) {
	t.Run("Operation Order Is Chain Order", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().
			Keep(gamma).
			Add(func() {}, WithName(delta)).
			Keep(alpha, beta).
			End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []Name{gamma, delta, alpha, beta}
		if !reflect.DeepEqual(next.Names(), expected) {
			t.Errorf("expected %v, got %v", expected, next.Names())
		}
	})

	t.Run("Original Chain Untouched", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().Drop(alpha).Keep(beta, gamma).End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []Name{alpha, beta, gamma}
		if !reflect.DeepEqual(chain.Names(), expected) {
			t.Errorf("original should keep %v, got %v", expected, chain.Names())
		}
	})

	t.Run("Drop Excludes Step", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().Keep(alpha, gamma).Drop(beta).End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next.Contains(beta) {
			t.Error("dropped step should be gone")
		}
	})

	t.Run("Keep By Alias And Function", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().Keep(aliasOne, doAlpha).Drop(gamma).End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []Name{beta, alpha}
		if !reflect.DeepEqual(next.Names(), expected) {
			t.Errorf("expected %v, got %v", expected, next.Names())
		}
	})

	t.Run("Incomplete Modification Fails", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().Keep(alpha).End()
		var incomplete *IncompleteModificationError
		if !errors.As(err, &incomplete) {
			t.Fatalf("expected *IncompleteModificationError, got %v", err)
		}
		expected := []Name{beta, gamma}
		if !reflect.DeepEqual(incomplete.Missing, expected) {
			t.Errorf("expected missing %v, got %v", expected, incomplete.Missing)
		}
	})

	t.Run("Unknown Identifier Latches", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().Keep("missing").Keep(alpha, beta, gamma).End()
		var unknown *UnknownStepError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected *UnknownStepError, got %v", err)
		}
	})

	t.Run("First Error Wins", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().
			Keep("missing").
			Add("not a function").
			End()
		var unknown *UnknownStepError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected the first latched error, got %v", err)
		}
	})

	t.Run("Duplicate In Composition Latches", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().
			Keep(alpha, beta, gamma).
			Add(func() {}, WithName(alpha)).
			End()
		var dup *DuplicateNameError
		if !errors.As(err, &dup) {
			t.Fatalf("expected *DuplicateNameError, got %v", err)
		}
	})

	t.Run("Add With Anchor In Composition", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().
			Keep(alpha, beta, gamma).
			Add(func() {}, WithName(wedge), At(Before(beta))).
			End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []Name{alpha, wedge, beta, gamma}
		if !reflect.DeepEqual(next.Names(), expected) {
			t.Errorf("expected %v, got %v", expected, next.Names())
		}
	})
}

func TestModifyReplace(t *testing.T) {
	t.Run("Substitutes In Place", func(t *testing.T) {
		chain := buildModifyFixture(t)

		ran := false
		next, err := chain.Modify().
			Keep(alpha).
			Replace(beta, func() { ran = true }, WithName(delta)).
			Keep(gamma).
			End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []Name{alpha, delta, gamma}
		if !reflect.DeepEqual(next.Names(), expected) {
			t.Errorf("expected %v, got %v", expected, next.Names())
		}

		if _, err := next.Run(context.Background(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ran {
			t.Error("replacement step should have executed")
		}
	})

	t.Run("Inherits Alias", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().
			Keep(alpha).
			Replace(aliasOne, func() {}, WithName(delta)).
			Keep(gamma).
			End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		step, err := next.Get(aliasOne)
		if err != nil {
			t.Fatalf("alias lookup should survive the rebuild: %v", err)
		}
		if step.Name() != delta {
			t.Errorf("expected the replacement under the alias, got %q", step.Name())
		}
	})

	t.Run("Explicit Alias Overrides Inheritance", func(t *testing.T) {
		chain := buildModifyFixture(t)

		next, err := chain.Modify().
			Keep(alpha, gamma).
			Replace(beta, func() {}, WithName(delta), WithAlias(aliasTwo)).
			End()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next.Contains(aliasOne) {
			t.Error("old alias should not carry over when a new one is given")
		}
		if !next.Contains(aliasTwo) {
			t.Error("expected lookup by the new alias")
		}
	})

	t.Run("Unknown Replace Target", func(t *testing.T) {
		chain := buildModifyFixture(t)

		_, err := chain.Modify().
			Keep(alpha, beta, gamma).
			Replace("missing", func() {}).
			End()
		var unknown *UnknownStepError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected *UnknownStepError, got %v", err)
		}
	})
}

func TestModifyCarriesConfiguration(t *testing.T) {
	chain := NewChain(testChain).
		WithDefaultPreference(Accepted).
		WithErrorField("failure")
	mustAdd(t, chain, doAlpha, WithName(alpha))

	next, err := chain.Modify().Keep(alpha).End()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The rebuilt chain infers preferences the same way the original did.
	mustAdd(t, next, doBeta, WithName(beta))
	step, _ := next.Get(beta)
	if step.ErrorPreference() != Accepted {
		t.Errorf("expected inherited default preference, got %v", step.ErrorPreference())
	}

	mustAdd(t, next, func(_ error) {}, WithName(handler), Params("failure"))
	step, _ = next.Get(handler)
	if step.ErrorPreference() != Required {
		t.Errorf("expected Required inferred from the renamed error field, got %v", step.ErrorPreference())
	}
}
