package statechain

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the chain engine.
const (
	// Metrics.
	ChainRunsTotal      = metricz.Key("chain.runs.total")
	ChainSuccessesTotal = metricz.Key("chain.successes.total")
	ChainFailuresTotal  = metricz.Key("chain.failures.total")
	ChainStepsTotal     = metricz.Key("chain.steps.total")
	ChainStepsExecuted  = metricz.Key("chain.steps.executed")
	ChainStepsSkipped   = metricz.Key("chain.steps.skipped")
	ChainDurationMs     = metricz.Key("chain.duration.ms")

	// Spans.
	ChainRunSpan  = tracez.Key("chain.run")
	ChainStepSpan = tracez.Key("chain.step")

	// Tags.
	ChainTagStepCount  = tracez.Tag("chain.step_count")
	ChainTagStepNumber = tracez.Tag("chain.step_number")
	ChainTagStepName   = tracez.Tag("chain.step_name")
	ChainTagPreference = tracez.Tag("chain.step_preference")
	ChainTagEligible   = tracez.Tag("chain.step_eligible")
	ChainTagSuccess    = tracez.Tag("chain.success")
	ChainTagError      = tracez.Tag("chain.error")

	// Hook event keys.
	ChainEventStepComplete = hookz.Key("chain.step_complete")
	ChainEventRunComplete  = hookz.Key("chain.run_complete")
)

// RunEvent describes chain execution progress. It is emitted via hookz
// once per reached step (executed or skipped) and once when the run
// finishes, providing visibility into the cascading error flow.
type RunEvent struct {
	Chain         Name          // Chain name
	Step          Name          // Step name (step_complete only)
	StepNumber    int           // 1-based position of the step
	TotalSteps    int           // Steps in this run's snapshot
	Executed      bool          // False when skipped by error preference
	Success       bool          // Step succeeded, or run ended clean
	Err           error         // Step failure, or the unhandled run error
	ChainErr      error         // Error slot content after the step
	Duration      time.Duration // Step duration (step_complete only)
	StepsExecuted int           // Executed count (run_complete only)
	TotalDuration time.Duration // Run duration (run_complete only)
	Timestamp     time.Time     // When the event occurred
}

// runConfig collects the per-run options.
type runConfig struct {
	returnAfter    any
	raise          bool
	raiseSet       bool
	hasReturnAfter bool
}

// RunOption configures a single Run call.
type RunOption func(*runConfig)

// RaiseImmediately overrides the chain default for this run: when
// true, a step error propagates out of Run at once instead of parking
// in the error slot for downstream handlers.
func RaiseImmediately(raise bool) RunOption {
	return func(c *runConfig) {
		c.raise = raise
		c.raiseSet = true
	}
}

// ReturnAfter stops the run once the identified step has been reached,
// executed or skipped, and returns the state regardless of error
// status. Run fails up front with *UnknownStepError when the
// identifier does not resolve.
func ReturnAfter(id any) RunOption {
	return func(c *runConfig) {
		c.returnAfter = id
		c.hasReturnAfter = true
	}
}

// Run iterates the chain's steps in order against a single shared
// state object. A zero state is replaced by the chain's factory
// product.
//
// For each step the engine compares the step's error preference with
// the live error slot: Unwanted steps run only while it is clear,
// Required steps only while it holds an error, Accepted steps always.
// An eligible step has its captured parameters bound against the state
// and is invoked; a returned non-nil error (or recovered panic) is
// assigned to the error slot — the last raised error always overwrites
// a previous one — and the run fast-forwards to the next eligible
// handler rather than aborting, unless RaiseImmediately applies.
// A handler clears the slot by setting the error field to nil through
// the whole-state parameter.
//
// After the final step, an error still in the slot is returned as-is:
// the exact value the failing step produced, so callers can inspect
// its original type. Otherwise Run returns the final state.
//
// The context is checked between steps; a canceled context stops the
// run with ctx.Err(). Run never mutates the chain and is safe to call
// concurrently.
func (c *Chain[S]) Run(ctx context.Context, state S, opts ...RunOption) (_ S, err error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.RLock()
	steps := slices.Clone(c.steps)
	stateParam := c.stateParam
	errorField := c.errorField
	raise := c.raiseImmediately
	factory := c.factory
	clock := c.getClock()
	c.mu.RUnlock()

	if cfg.raiseSet {
		raise = cfg.raise
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if isNilState(state) && factory != nil {
		state = factory()
	}

	returnAfter := -1
	if cfg.hasReturnAfter {
		returnAfter = indexIn(steps, cfg.returnAfter)
		if returnAfter < 0 {
			return state, &UnknownStepError{Identifier: cfg.returnAfter}
		}
	}

	c.metrics.Counter(ChainRunsTotal).Inc()
	c.metrics.Gauge(ChainStepsTotal).Set(float64(len(steps)))
	start := clock.Now()
	executed := 0
	skipped := 0

	ctx, span := c.tracer.StartSpan(ctx, ChainRunSpan)
	span.SetTag(ChainTagStepCount, fmt.Sprintf("%d", len(steps)))
	defer func() {
		elapsed := clock.Since(start)
		c.metrics.Gauge(ChainDurationMs).Set(float64(elapsed.Milliseconds()))
		c.metrics.Gauge(ChainStepsExecuted).Set(float64(executed))
		c.metrics.Gauge(ChainStepsSkipped).Set(float64(skipped))

		if err == nil {
			span.SetTag(ChainTagSuccess, "true")
			c.metrics.Counter(ChainSuccessesTotal).Inc()
		} else {
			span.SetTag(ChainTagSuccess, "false")
			span.SetTag(ChainTagError, err.Error())
			c.metrics.Counter(ChainFailuresTotal).Inc()
		}
		span.Finish()

		_ = c.hooks.Emit(ctx, ChainEventRunComplete, RunEvent{ //nolint:errcheck
			Chain:         c.name,
			TotalSteps:    len(steps),
			StepsExecuted: executed,
			Success:       err == nil,
			Err:           err,
			ChainErr:      stateError(state, errorField),
			TotalDuration: clock.Since(start),
			Timestamp:     clock.Now(),
		})
	}()

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		chainErr := stateError(state, errorField)
		eligible := true
		switch step.pref {
		case Unwanted:
			eligible = chainErr == nil
		case Required:
			eligible = chainErr != nil
		}

		var stepErr error
		stepStart := clock.Now()
		if eligible {
			_, stepSpan := c.tracer.StartSpan(ctx, ChainStepSpan)
			stepSpan.SetTag(ChainTagStepNumber, fmt.Sprintf("%d", i+1))
			stepSpan.SetTag(ChainTagStepName, step.name)
			stepSpan.SetTag(ChainTagPreference, step.pref.String())
			stepSpan.SetTag(ChainTagEligible, "true")

			args, bindErr := bindArgs(step, state, stateParam, errorField)
			if bindErr != nil {
				stepErr = bindErr
			} else {
				stepErr = invoke(step, args)
			}
			if stepErr != nil {
				// Last raised error wins, always overwriting.
				state.Set(errorField, stepErr)
				stepSpan.SetTag(ChainTagError, stepErr.Error())
			}
			stepSpan.Finish()
			executed++
		} else {
			skipped++
		}

		_ = c.hooks.Emit(ctx, ChainEventStepComplete, RunEvent{ //nolint:errcheck
			Chain:      c.name,
			Step:       step.name,
			StepNumber: i + 1,
			TotalSteps: len(steps),
			Executed:   eligible,
			Success:    stepErr == nil,
			Err:        stepErr,
			ChainErr:   stateError(state, errorField),
			Duration:   clock.Since(stepStart),
			Timestamp:  clock.Now(),
		})

		if stepErr != nil && raise {
			return state, stepErr
		}
		if i == returnAfter {
			return state, nil
		}
	}

	if chainErr := stateError(state, errorField); chainErr != nil {
		// Nothing downstream handled it: surface the exact error value.
		return state, chainErr
	}
	return state, nil
}

// isNilState reports whether a state value is absent: a nil interface
// or a nil pointer/map behind one.
func isNilState(s any) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// Metrics returns the metrics registry for this chain.
func (c *Chain[S]) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this chain.
func (c *Chain[S]) Tracer() *tracez.Tracer {
	return c.tracer
}

// OnStepComplete registers a handler called asynchronously as each
// reached step completes, whether it ran, failed, or was skipped by
// its error preference.
func (c *Chain[S]) OnStepComplete(handler func(context.Context, RunEvent) error) error {
	_, err := c.hooks.Hook(ChainEventStepComplete, handler)
	return err
}

// OnRunComplete registers a handler called asynchronously when a run
// finishes, clean or not. The event carries aggregate counts and the
// total duration.
func (c *Chain[S]) OnRunComplete(handler func(context.Context, RunEvent) error) error {
	_, err := c.hooks.Hook(ChainEventRunComplete, handler)
	return err
}

// Close gracefully shuts down observability components.
func (c *Chain[S]) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}
