package statechain

import (
	"errors"
	"fmt"
)

// Step registration errors.
var (
	ErrNotAFunction     = errors.New("callable is not a function")
	ErrVariadicFunction = errors.New("variadic functions are not supported")
	ErrParamCount       = errors.New("declared parameters do not match function arity")
)

// DuplicateNameError reports an Add or Modify that would register a
// step whose name or alias collides with one already in the chain.
// The failed call leaves the chain untouched.
type DuplicateNameError struct {
	Name Name
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("step %q already exists in this chain", e.Name)
}

// UnknownStepError reports an identifier (name, alias, or function)
// that does not resolve to any step in the chain.
type UnknownStepError struct {
	Identifier any
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("step %v isn't in this chain", identString(e.Identifier))
}

// IncompleteModificationError reports a Modify().End() that left one
// or more steps of the original chain neither kept, dropped, nor
// replaced. Missing lists the unaccounted step names in chain order.
type IncompleteModificationError struct {
	Missing []Name
}

func (e *IncompleteModificationError) Error() string {
	return fmt.Sprintf("modification does not account for steps %v", e.Missing)
}

// MissingAttributeError reports a declared step parameter that is
// absent from the state object and has no default. It surfaces through
// the chain's error slot like any other step failure, so a later
// Required step can observe and handle it.
type MissingAttributeError struct {
	Step      Name
	Attribute Name
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("step %q wants %q but the state has no such attribute", e.Step, e.Attribute)
}

// PanicError wraps a panic recovered from a step so it can travel
// through the error slot like a returned error. Value holds the
// original panic value.
type PanicError struct {
	Step  Name
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step %q panicked: %v", e.Step, e.Value)
}

// identString renders a lookup identifier for error messages.
func identString(id any) string {
	switch v := id.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case *Step:
		return fmt.Sprintf("%q", v.Name())
	default:
		return fmt.Sprintf("%v", v)
	}
}
