package statechain

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewStep(t *testing.T) {
	t.Run("Captures Signature Once", func(t *testing.T) {
		step, _, err := newStep(func(x, y int) error { return nil },
			"error", Unwanted, WithName(alpha), Params("x", "y"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if step.Name() != alpha {
			t.Errorf("expected name %q, got %q", alpha, step.Name())
		}
		if !reflect.DeepEqual(step.Params(), []Name{"x", "y"}) {
			t.Errorf("unexpected params: %v", step.Params())
		}
		if step.errIndex != 0 {
			t.Errorf("expected trailing error at index 0, got %d", step.errIndex)
		}
	})

	t.Run("No Error Return", func(t *testing.T) {
		step, _, err := newStep(func() int { return 0 }, "error", Unwanted, WithName(alpha))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if step.errIndex != -1 {
			t.Errorf("expected no error index, got %d", step.errIndex)
		}
	})

	t.Run("Multiple Returns With Trailing Error", func(t *testing.T) {
		step, _, err := newStep(func() (int, error) { return 0, nil },
			"error", Unwanted, WithName(alpha))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if step.errIndex != 1 {
			t.Errorf("expected error at index 1, got %d", step.errIndex)
		}
	})

	t.Run("Func Returns Callable Unchanged", func(t *testing.T) {
		fn := func() {}
		step, _, err := newStep(fn, "error", Unwanted, WithName(alpha))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reflect.ValueOf(step.Func()).Pointer() != reflect.ValueOf(fn).Pointer() {
			t.Error("Func should hand back the registered callable")
		}
	})

	t.Run("String Rendering", func(t *testing.T) {
		step, _, err := newStep(func(_ int, _ *Bag) {}, "error", Unwanted,
			WithName("charge"), Params("total", "state"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := step.String(); got != "charge(total, state)" {
			t.Errorf("unexpected rendering: %s", got)
		}
	})

	t.Run("Param Default Metadata", func(t *testing.T) {
		step, _, err := newStep(func(_ int, _ int) {}, "error", Unwanted,
			WithName(alpha), Params("x"), ParamDefault("limit", 10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if step.params[0].HasDefault() {
			t.Error("x should have no default")
		}
		if !step.params[1].HasDefault() || step.params[1].Default != 10 {
			t.Errorf("expected limit default 10, got %+v", step.params[1])
		}
	})

	t.Run("Rejects Nil", func(t *testing.T) {
		_, _, err := newStep(nil, "error", Unwanted)
		if !errors.Is(err, ErrNotAFunction) {
			t.Errorf("expected ErrNotAFunction, got %v", err)
		}
	})
}

func TestFuncName(t *testing.T) {
	if got := funcName(reflect.ValueOf(doAlpha)); got != "doAlpha" {
		t.Errorf("expected doAlpha, got %q", got)
	}
}

func TestErrorPreferenceString(t *testing.T) {
	cases := map[ErrorPreference]string{
		Unwanted:        "unwanted",
		Accepted:        "accepted",
		Required:        "required",
		preferenceUnset: "unset",
	}
	for pref, expected := range cases {
		if got := pref.String(); got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	}
}

func TestStepIs(t *testing.T) {
	step, _, err := newStep(doAlpha, "error", Unwanted, WithName(alpha), WithAlias(aliasOne))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !step.is(alpha) || !step.is(aliasOne) {
		t.Error("expected match by name and alias")
	}
	if !step.is(step) {
		t.Error("expected match by step identity")
	}
	if !step.is(doAlpha) {
		t.Error("expected match by function identity")
	}
	if step.is(doBeta) || step.is("other") || step.is("") || step.is(42) {
		t.Error("unexpected match")
	}
}
