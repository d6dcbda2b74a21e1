package core

import (
	"errors"
	"fmt"
)

// ErrCycle is returned when dynamic substitutions reference each other in a loop.
var ErrCycle = errors.New("substitution cycle")

// ParseError reports a malformed or invalid configuration document.
// Nothing runs when parsing fails.
type ParseError struct {
	Field string // offending field, e.g. "steps[1].id"; empty for syntax errors
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse config: %v", e.Err)
	}
	return fmt.Sprintf("parse config: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnresolvedVariableError is returned in strict mode when a referenced
// variable has no value in the substitution table.
type UnresolvedVariableError struct {
	Variable string
	Field    string // where the reference appeared, e.g. "steps[0].args[2]"
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable $%s in %s", e.Variable, e.Field)
}

// SubstitutionSyntaxError reports a malformed placeholder such as "${NAME".
type SubstitutionSyntaxError struct {
	Template string
	Offset   int
}

func (e *SubstitutionSyntaxError) Error() string {
	return fmt.Sprintf("malformed substitution at offset %d in %q", e.Offset, e.Template)
}

// StepFailure reports the step that ended the build.
type StepFailure struct {
	StepID   string
	Index    int
	ExitCode int
	Status   Status
	Err      error // cause when the step could not run or was interrupted
}

func (e *StepFailure) Error() string {
	msg := fmt.Sprintf("step %s (#%d) failed with exit code %d", e.StepID, e.Index, e.ExitCode)
	if e.Status == StatusTimeout || e.Status == StatusCancelled {
		msg = fmt.Sprintf("step %s (#%d) %s", e.StepID, e.Index, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepFailure) Unwrap() error { return e.Err }
