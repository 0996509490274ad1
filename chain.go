package statechain

import (
	"slices"
	"sort"
	"sync"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Position identifies where a step lands in the chain. The zero value
// appends at the end, which is the registry default. Positions built
// with Before and After carry the anchor identifier and are resolved
// against the chain's live order at the moment they are used, so prior
// mutations are always reflected.
type Position struct {
	anchor any
	kind   positionKind
}

type positionKind uint8

const (
	posEnd positionKind = iota
	posStart
	posBefore
	posAfter
)

// Sentinel positions for the two ends of the chain.
var (
	Start = Position{kind: posStart}
	End   = Position{kind: posEnd}
)

// Before positions a step immediately before the step matching id.
// Resolution happens when the position is consumed by Add, against the
// order the chain has then; an unresolvable anchor fails that Add with
// *UnknownStepError.
func Before(id any) Position {
	return Position{kind: posBefore, anchor: id}
}

// After positions a step immediately after the step matching id.
func After(id any) Position {
	return Position{kind: posAfter, anchor: id}
}

// resolve computes the insertion index for pos against the given order.
func (p Position) resolve(steps []*Step) (int, error) {
	switch p.kind {
	case posStart:
		return 0, nil
	case posBefore, posAfter:
		i := indexIn(steps, p.anchor)
		if i < 0 {
			return 0, &UnknownStepError{Identifier: p.anchor}
		}
		if p.kind == posAfter {
			i++
		}
		return i, nil
	default: // posEnd
		return len(steps), nil
	}
}

// indexIn returns the index of the step matching id, or -1.
func indexIn(steps []*Step, id any) int {
	for i, s := range steps {
		if s.is(id) {
			return i
		}
	}
	return -1
}

// conflict reports the first name/alias collision the candidate
// identifiers would cause against the given order. Names and aliases
// share one namespace, since lookup accepts either.
func conflict(steps []*Step, name, alias Name) *DuplicateNameError {
	for _, s := range steps {
		if s.name == name || (s.alias != "" && s.alias == name) {
			return &DuplicateNameError{Name: name}
		}
		if alias != "" && (s.name == alias || s.alias == alias) {
			return &DuplicateNameError{Name: alias}
		}
	}
	return nil
}

// Chain is an ordered, name-addressable sequence of Steps plus the
// chain-level configuration: the state factory, the default error
// preference, and the designated whole-state and error field names.
//
// Insertion order is execution order. A Chain is logically immutable
// between mutation calls; Run never mutates it. Mutation and execution
// are serialized by the chain's lock, but callers wanting to edit a
// chain while the old version keeps serving in-flight runs should use
// Copy or Modify to produce the next version instead (copy-on-write
// style versioning).
type Chain[S State] struct {
	name    Name
	mu      sync.RWMutex
	steps   []*Step
	factory func() S

	defaultPreference ErrorPreference
	stateParam        Name
	errorField        Name
	raiseImmediately  bool

	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[RunEvent]
}

// New creates an empty Chain whose Run produces state objects of type
// S via factory when invoked without one. Configure before adding
// steps: WithErrorField and WithDefaultPreference influence the
// preference inference performed at registration.
//
// Example:
//
//	chain := statechain.New("checkout", func() *Checkout { return &Checkout{} })
func New[S State](name Name, factory func() S) *Chain[S] {
	metrics := metricz.New()
	metrics.Counter(ChainRunsTotal)
	metrics.Counter(ChainSuccessesTotal)
	metrics.Counter(ChainFailuresTotal)
	metrics.Gauge(ChainStepsTotal)
	metrics.Gauge(ChainStepsExecuted)
	metrics.Gauge(ChainStepsSkipped)
	metrics.Gauge(ChainDurationMs)

	return &Chain[S]{
		name:              name,
		factory:           factory,
		defaultPreference: Unwanted,
		stateParam:        "state",
		errorField:        "error",
		metrics:           metrics,
		tracer:            tracez.New(),
		hooks:             hookz.New[RunEvent](),
	}
}

// NewChain creates a Chain over the default Bag state.
func NewChain(name Name) *Chain[*Bag] {
	return New(name, NewBag)
}

// Name returns the name of this chain.
func (c *Chain[S]) Name() Name {
	return c.name
}

// WithDefaultPreference sets the error preference assigned to steps
// added without an explicit one and without an error parameter.
func (c *Chain[S]) WithDefaultPreference(p ErrorPreference) *Chain[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultPreference = p
	return c
}

// WithStateParam renames the designated whole-state parameter
// (default "state").
func (c *Chain[S]) WithStateParam(name Name) *Chain[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateParam = name
	return c
}

// WithErrorField renames the designated error field (default "error").
func (c *Chain[S]) WithErrorField(name Name) *Chain[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorField = name
	return c
}

// WithRaiseImmediately makes every Run propagate step errors
// immediately by default, instead of parking them in the error slot.
// A per-run RaiseImmediately option still takes precedence.
func (c *Chain[S]) WithRaiseImmediately(raise bool) *Chain[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raiseImmediately = raise
	return c
}

// WithClock sets a custom clock for testing.
func (c *Chain[S]) WithClock(clock clockz.Clock) *Chain[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

// getClock returns the clock to use.
func (c *Chain[S]) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// Add registers fn as a new step. By default the step is appended; use
// At with Start, End, Before, or After to place it elsewhere. The
// function's signature is captured here, once: the Params and
// ParamDefault options must match its arity exactly, and the error
// preference is inferred from an error parameter unless WithPreference
// is given.
//
// Add fails with *DuplicateNameError on a name or alias collision and
// with *UnknownStepError when a Before/After anchor does not resolve;
// a failed Add leaves the chain untouched.
func (c *Chain[S]) Add(fn any, opts ...StepOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, cfg, err := newStep(fn, c.errorField, c.defaultPreference, opts...)
	if err != nil {
		return err
	}
	if dup := conflict(c.steps, step.name, step.alias); dup != nil {
		return dup
	}
	i, err := cfg.pos.resolve(c.steps)
	if err != nil {
		return err
	}
	c.steps = slices.Insert(c.steps, i, step)
	return nil
}

// Register adds fn exactly like Add and returns fn unchanged, so a
// function can be defined and registered in one expression:
//
//	validate := chain.Register(func(state *statechain.Bag) error {
//	    ...
//	}, statechain.WithName("validate"), statechain.Params("state")).(func(*statechain.Bag) error)
//
// Register panics on a registration error; use Add when the caller
// wants to handle it.
func (c *Chain[S]) Register(fn any, opts ...StepOption) any {
	if err := c.Add(fn, opts...); err != nil {
		panic(err)
	}
	return fn
}

// Remove deletes the steps matching the given identifiers (name,
// alias, function, or *Step). If any identifier does not resolve, or
// resolves to a step an earlier identifier already claimed, the call
// fails with *UnknownStepError and removes nothing.
func (c *Chain[S]) Remove(ids ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	claimed := make(map[int]bool, len(ids))
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		i := indexIn(c.steps, id)
		if i < 0 || claimed[i] {
			return &UnknownStepError{Identifier: id}
		}
		claimed[i] = true
		indices = append(indices, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	for _, i := range indices {
		c.steps = slices.Delete(c.steps, i, i+1)
	}
	return nil
}

// Get resolves an identifier to its Step.
func (c *Chain[S]) Get(id any) (*Step, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := indexIn(c.steps, id)
	if i < 0 {
		return nil, &UnknownStepError{Identifier: id}
	}
	return c.steps[i], nil
}

// Contains reports whether an identifier resolves to a step.
func (c *Chain[S]) Contains(id any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return indexIn(c.steps, id) >= 0
}

// Steps returns the registered steps in execution order. The slice is
// a copy; the Step records are shared and immutable.
func (c *Chain[S]) Steps() []*Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.steps)
}

// Names returns the step names in execution order.
func (c *Chain[S]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]Name, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.name
	}
	return names
}

// Len returns the number of registered steps.
func (c *Chain[S]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

// Copy produces an independent chain holding the same Step records and
// configuration. Steps are immutable after registration, so sharing
// them is safe; mutations to either chain never affect the other.
// Observability instruments are fresh, not shared.
func (c *Chain[S]) Copy() *Chain[S] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := New[S](c.name, c.factory)
	cp.steps = slices.Clone(c.steps)
	cp.defaultPreference = c.defaultPreference
	cp.stateParam = c.stateParam
	cp.errorField = c.errorField
	cp.raiseImmediately = c.raiseImmediately
	cp.clock = c.clock
	return cp
}
