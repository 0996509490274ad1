// Package statechain models an algorithm as an ordered list of named
// steps operating on a single shared state object, with cascading
// error handling and safe run-time editing of the sequence.
//
// # Overview
//
// Where a conventional pipeline threads a value through transformations
// and aborts on the first error, a state chain gives every step access
// to one mutable state object and turns failure into a state
// transition: a step's error is parked in the state's error slot, the
// run fast-forwards past ordinary steps to the next error handler in
// the list, and only an error that nothing downstream clears is
// returned to the caller — as the exact original error value.
//
// This makes recovery a matter of chain composition rather than
// special control flow: handlers are plain steps that declare the
// error parameter, and "did anything handle this" is an emergent
// property of chain order and per-step error preferences.
//
// # Core Concepts
//
//   - Chain: ordered, name-addressable steps plus chain-level
//     configuration. Logically immutable between mutation calls;
//     Run never mutates it.
//   - Step: one registered function with a unique name, an optional
//     stable alias, an error preference, and its parameter names
//     captured once at registration.
//   - State: any type with named-field get/set semantics (the State
//     interface). Bag is the default attribute container.
//   - ErrorPreference: Unwanted steps run only while no error is
//     present, Required steps only while one is, Accepted steps
//     always.
//
// # Quick Start
//
//	chain := statechain.NewChain("checkout")
//
//	chain.Register(func(state *statechain.Bag) {
//	    state.Set("total", 100)
//	}, statechain.WithName("price"), statechain.Params("state"))
//
//	chain.Register(func(total int, state *statechain.Bag) error {
//	    if total <= 0 {
//	        return errors.New("nothing to charge")
//	    }
//	    state.Set("charged", total)
//	    return nil
//	}, statechain.WithName("charge"), statechain.Params("total", "state"))
//
//	// A handler: Required is inferred from the error parameter.
//	chain.Register(func(err error, state *statechain.Bag) {
//	    state.Set("error", nil) // handled
//	}, statechain.WithName("recover"), statechain.Params("error", "state"))
//
//	state, err := chain.Run(ctx, nil)
//
// # Parameter Binding
//
// Go reflection cannot recover parameter names, so each step declares
// them at registration with Params and ParamDefault, in signature
// order. On every invocation the engine binds each name against the
// state: the designated whole-state name (default "state") binds the
// state object itself, the designated error field name (default
// "error") binds the current error value, and any other name binds the
// state attribute of that name or the declared default. Binding is
// read-only; steps mutate state through the whole-state parameter.
//
// # Editing a Chain
//
// Steps can be addressed by name, alias, or the registered function.
// Add places steps with At(Start), At(End), At(Before(id)), or
// At(After(id)); Before/After anchors resolve against the chain's
// order at the moment the Add happens. For larger edits, Modify opens
// a staged rebuild where every original step must be kept, dropped, or
// replaced before End produces the new chain — so a rebuild cannot
// silently lose a step. Copy produces an independent chain sharing the
// same immutable step records, the intended mechanism for editing a
// chain while the old version keeps serving in-flight runs.
//
// # Observability
//
// Each chain carries its own instruments: metricz counters and gauges
// (chain.runs.total, chain.steps.executed, ...), tracez spans
// (chain.run with a chain.step child per executed step), and hookz
// events (chain.step_complete, chain.run_complete) registered via
// OnStepComplete and OnRunComplete. Durations come from an injectable
// clockz.Clock; use WithClock and a fake clock in tests.
//
// # Concurrency
//
// Execution is single-threaded and strictly sequential: one Run is one
// ordered pass, with the context checked between steps. A chain may
// serve concurrent Runs; to change the composition while runs are in
// flight, build the next version with Copy or Modify and swap it in.
package statechain
