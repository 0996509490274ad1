package statechain

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Name is a type alias for step and chain names.
// Using this type encourages storing names as constants rather than
// using inline strings throughout your code.
type Name = string

// ErrorPreference controls whether a step runs while the chain's error
// slot holds an error. It is the per-step half of the cascading error
// model: a failing step parks its error in the state, and downstream
// steps opt in or out of running against it.
type ErrorPreference int

const (
	// preferenceUnset distinguishes "no explicit preference" so the
	// chain default and the error-parameter inference can apply.
	preferenceUnset ErrorPreference = iota

	// Unwanted steps run only while no error is present. This is the
	// chain default for ordinary processing steps.
	Unwanted

	// Accepted steps run unconditionally, error or not.
	Accepted

	// Required steps run only while an error is present. They are the
	// chain's error handlers.
	Required
)

// String returns the preference name for debugging output.
func (p ErrorPreference) String() string {
	switch p {
	case Unwanted:
		return "unwanted"
	case Accepted:
		return "accepted"
	case Required:
		return "required"
	default:
		return "unset"
	}
}

// Param is one declared parameter of a step: a state field name and an
// optional default used when the field is absent. Go reflection cannot
// recover parameter names at runtime, so they are declared at
// registration via the Params and ParamDefault options and captured
// once on the Step record, never re-inspected per call.
type Param struct {
	Name       Name
	Default    any
	hasDefault bool
}

// HasDefault reports whether the parameter declared a default value.
func (p Param) HasDefault() bool {
	return p.hasDefault
}

// Step is one registered processing unit: a function plus the metadata
// the engine needs to schedule and invoke it. Steps are immutable after
// registration, which makes sharing them across chain copies safe.
type Step struct {
	raw      any
	fn       reflect.Value
	typ      reflect.Type
	name     Name
	alias    Name
	pref     ErrorPreference
	params   []Param
	errIndex int
}

// Name returns the step's unique identifier within its chain.
func (s *Step) Name() Name {
	return s.name
}

// Alias returns the step's secondary identifier, or "" if none was
// set. An alias survives Modify replacements, so callers can keep a
// stable handle on a position in the chain across rebuilds.
func (s *Step) Alias() Name {
	return s.alias
}

// ErrorPreference returns the step's effective error preference,
// explicit or inferred.
func (s *Step) ErrorPreference() ErrorPreference {
	return s.pref
}

// Func returns the registered callable unchanged.
func (s *Step) Func() any {
	return s.raw
}

// Params returns the declared parameter names in order.
func (s *Step) Params() []Name {
	names := make([]Name, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// String renders the step as name(params) for debugging.
func (s *Step) String() string {
	return fmt.Sprintf("%s(%s)", s.name, strings.Join(s.Params(), ", "))
}

// is reports whether the step matches a lookup identifier: its name,
// its alias, the Step itself, or the registered function.
func (s *Step) is(id any) bool {
	switch v := id.(type) {
	case string:
		return v != "" && (s.name == v || s.alias == v)
	case *Step:
		return s == v
	default:
		rv := reflect.ValueOf(id)
		return rv.Kind() == reflect.Func && rv.Pointer() == s.fn.Pointer()
	}
}

// stepConfig collects the per-step options consumed at registration.
type stepConfig struct {
	name   Name
	alias  Name
	pref   ErrorPreference
	params []Param
	pos    Position
}

// StepOption configures a step at registration time, for Chain.Add,
// Chain.Register, and the Modify builder's Add and Replace.
type StepOption func(*stepConfig)

// WithName overrides the step name derived from the function.
func WithName(name Name) StepOption {
	return func(c *stepConfig) { c.name = name }
}

// WithAlias sets the step's secondary identifier.
func WithAlias(alias Name) StepOption {
	return func(c *stepConfig) { c.alias = alias }
}

// WithPreference sets an explicit error preference, bypassing the
// error-parameter inference and the chain default.
func WithPreference(p ErrorPreference) StepOption {
	return func(c *stepConfig) { c.pref = p }
}

// Params declares the step's parameter names in order. Each name is
// resolved against the state object on every invocation; the names
// must match the function's arity exactly.
func Params(names ...Name) StepOption {
	return func(c *stepConfig) {
		for _, n := range names {
			c.params = append(c.params, Param{Name: n})
		}
	}
}

// ParamDefault declares the next parameter with a default value, used
// when the state has no field of that name. Declaring the error field
// with a default marks the step as running error or not (Accepted),
// mirroring an optional error parameter.
func ParamDefault(name Name, def any) StepOption {
	return func(c *stepConfig) {
		c.params = append(c.params, Param{Name: name, Default: def, hasDefault: true})
	}
}

// At places the step at the given position instead of appending.
// Combine with Start, End, Before, or After.
func At(pos Position) StepOption {
	return func(c *stepConfig) { c.pos = pos }
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// newStep captures a function's signature once and builds the
// immutable Step record. errorField and defaultPref come from the
// owning chain and drive the preference inference.
func newStep(fn any, errorField Name, defaultPref ErrorPreference, opts ...StepOption) (*Step, stepConfig, error) {
	var cfg stepConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	v := reflect.ValueOf(fn)
	if fn == nil || v.Kind() != reflect.Func {
		return nil, cfg, fmt.Errorf("%w: %T", ErrNotAFunction, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, cfg, ErrVariadicFunction
	}

	name := cfg.name
	if name == "" {
		name = funcName(v)
	}
	if name == "" {
		return nil, cfg, fmt.Errorf("%w: step has no name", ErrNotAFunction)
	}

	if len(cfg.params) != t.NumIn() {
		return nil, cfg, fmt.Errorf("step %q: %w: declared %d, function takes %d",
			name, ErrParamCount, len(cfg.params), t.NumIn())
	}
	seen := make(map[Name]bool, len(cfg.params))
	for _, p := range cfg.params {
		if seen[p.Name] {
			return nil, cfg, fmt.Errorf("step %q: %w: parameter %q declared twice",
				name, ErrParamCount, p.Name)
		}
		seen[p.Name] = true
	}

	errIndex := -1
	if n := t.NumOut(); n > 0 && t.Out(n-1) == errType {
		errIndex = n - 1
	}

	pref := cfg.pref
	if pref == preferenceUnset {
		pref = defaultPref
		for _, p := range cfg.params {
			if p.Name != errorField {
				continue
			}
			if p.hasDefault {
				pref = Accepted
			} else {
				pref = Required
			}
			break
		}
	}

	return &Step{
		raw:      fn,
		fn:       v,
		typ:      t,
		name:     name,
		alias:    cfg.alias,
		pref:     pref,
		params:   append([]Param(nil), cfg.params...),
		errIndex: errIndex,
	}, cfg, nil
}

// funcName derives a step name from the function's runtime name:
// the final path element with any package qualifier and method-value
// suffix stripped, matching how the function is referred to in code.
func funcName(fn reflect.Value) Name {
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}
	name := rf.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
