package statechain

import (
	"slices"
)

// Modification is the staged rebuild protocol opened by Chain.Modify.
// It describes the next version of a chain purely in terms of Keep,
// Drop, Replace, and Add operations against a snapshot of the current
// chain, and finalizes into a new independent Chain at End. The new
// chain's order is the order the operations were applied in.
//
// Every step of the original chain must be kept, dropped, or replaced
// before End succeeds; the completeness check guards against silently
// forgetting a step when rebuilding a long chain.
//
// Builder methods validate eagerly and latch the first error; End
// surfaces it and builds nothing, so a failed modification never
// produces a partial chain.
type Modification[S State] struct {
	chain     *Chain[S]
	original  []*Step
	steps     []*Step
	accounted map[*Step]bool
	err       error

	defaultPreference ErrorPreference
	errorField        Name
}

// Modify opens a staged rebuild bound to a snapshot of the chain's
// current steps. The chain itself is left untouched; End returns the
// rebuilt chain.
//
// Example:
//
//	next, err := chain.Modify().
//	    Keep("validate").
//	    Replace("price", priceV2, statechain.Params("state")).
//	    Drop("audit").
//	    Add(notify, statechain.Params("state")).
//	    End()
func (c *Chain[S]) Modify() *Modification[S] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Modification[S]{
		chain:             c,
		original:          slices.Clone(c.steps),
		accounted:         make(map[*Step]bool, len(c.steps)),
		defaultPreference: c.defaultPreference,
		errorField:        c.errorField,
	}
}

// Keep carries the identified existing steps into the new chain
// unchanged, at the point in the composition where Keep is called.
func (m *Modification[S]) Keep(ids ...any) *Modification[S] {
	for _, id := range ids {
		if m.err != nil {
			return m
		}
		i := indexIn(m.original, id)
		if i < 0 {
			return m.fail(&UnknownStepError{Identifier: id})
		}
		step := m.original[i]
		m.accounted[step] = true
		m.insert(step, End)
	}
	return m
}

// Drop excludes the identified existing steps from the new chain.
func (m *Modification[S]) Drop(ids ...any) *Modification[S] {
	for _, id := range ids {
		if m.err != nil {
			return m
		}
		i := indexIn(m.original, id)
		if i < 0 {
			return m.fail(&UnknownStepError{Identifier: id})
		}
		m.accounted[m.original[i]] = true
	}
	return m
}

// Replace substitutes a new step for the identified existing one. The
// replacement takes the slot where Replace is called, like every other
// operation, unless At overrides it. It inherits the replaced step's
// alias unless WithAlias is given, so alias lookups stay stable across
// rebuilds.
func (m *Modification[S]) Replace(id, fn any, opts ...StepOption) *Modification[S] {
	if m.err != nil {
		return m
	}
	i := indexIn(m.original, id)
	if i < 0 {
		return m.fail(&UnknownStepError{Identifier: id})
	}
	replaced := m.original[i]
	m.accounted[replaced] = true

	step, cfg, err := newStep(fn, m.errorField, m.defaultPreference, opts...)
	if err != nil {
		return m.fail(err)
	}
	if step.alias == "" {
		step.alias = replaced.alias
	}
	m.insert(step, cfg.pos)
	return m
}

// Add inserts a brand-new step into the composition, with the same
// options as Chain.Add. Before and After anchors resolve against the
// composition built so far.
func (m *Modification[S]) Add(fn any, opts ...StepOption) *Modification[S] {
	if m.err != nil {
		return m
	}
	step, cfg, err := newStep(fn, m.errorField, m.defaultPreference, opts...)
	if err != nil {
		return m.fail(err)
	}
	m.insert(step, cfg.pos)
	return m
}

// End finalizes the modification. It fails with
// *IncompleteModificationError if any original step was neither kept,
// dropped, nor replaced, or with the first error a builder call
// latched; otherwise it returns a new independent Chain carrying the
// original chain's configuration.
func (m *Modification[S]) End() (*Chain[S], error) {
	if m.err != nil {
		return nil, m.err
	}

	var missing []Name
	for _, s := range m.original {
		if !m.accounted[s] {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteModificationError{Missing: missing}
	}

	c := m.chain
	c.mu.RLock()
	next := New[S](c.name, c.factory)
	next.defaultPreference = c.defaultPreference
	next.stateParam = c.stateParam
	next.errorField = c.errorField
	next.raiseImmediately = c.raiseImmediately
	next.clock = c.clock
	c.mu.RUnlock()

	next.steps = m.steps
	return next, nil
}

// insert places a step into the composition, checking name/alias
// uniqueness against the steps already composed.
func (m *Modification[S]) insert(step *Step, pos Position) {
	if dup := conflict(m.steps, step.name, step.alias); dup != nil {
		m.fail(dup)
		return
	}
	i, err := pos.resolve(m.steps)
	if err != nil {
		m.fail(err)
		return
	}
	m.steps = slices.Insert(m.steps, i, step)
}

// fail latches the first builder error.
func (m *Modification[S]) fail(err error) *Modification[S] {
	if m.err == nil {
		m.err = err
	}
	return m
}
