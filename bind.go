package statechain

import (
	"fmt"
	"reflect"
)

// bindArgs resolves a step's captured parameter names against the
// state object and produces the argument list for the call. Binding is
// purely read-side: the designated whole-state name binds the state
// object itself, the designated error field name binds the current
// error value (nil while clear), and every other name binds the state
// attribute of that name, falling back to the parameter's declared
// default. A name that neither resolves nor has a default yields
// *MissingAttributeError, which the engine funnels into the error slot
// like any other step failure.
func bindArgs(step *Step, state State, stateParam, errorField Name) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(step.params))
	for i, p := range step.params {
		var val any
		switch p.Name {
		case stateParam:
			val = state
		case errorField:
			val = stateError(state, errorField)
		default:
			v, ok := state.Get(p.Name)
			switch {
			case ok:
				val = v
			case p.hasDefault:
				val = p.Default
			default:
				return nil, &MissingAttributeError{Step: step.name, Attribute: p.Name}
			}
		}

		in := step.typ.In(i)
		if val == nil {
			args[i] = reflect.Zero(in)
			continue
		}
		rv := reflect.ValueOf(val)
		if !rv.Type().AssignableTo(in) {
			return nil, fmt.Errorf("step %q: parameter %q: cannot use %T as %s",
				step.name, p.Name, val, in)
		}
		args[i] = rv
	}
	return args, nil
}

// invoke calls the step's function with bound arguments and extracts
// the trailing error return, if the signature declares one. Any other
// return values are ignored: steps communicate results by mutating
// state through the whole-state parameter. A panic inside the step is
// recovered and wrapped as *PanicError so it travels the same route as
// a returned error.
func invoke(step *Step, args []reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Step: step.name, Value: r}
		}
	}()

	out := step.fn.Call(args)
	if step.errIndex >= 0 {
		if e, _ := out[step.errIndex].Interface().(error); e != nil {
			return e
		}
	}
	return nil
}
