package pipeline

import (
	"fmt"
	"runtime/debug"

	"github.com/max-solo23/deeptrace/internal/errreport"
)

// StageFailure records the stage that ended a run in the Error state.
type StageFailure struct {
	Stage State
	Class errreport.Class
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("pipeline: %s failed (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a collaborator panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Permanent keeps recovered panics out of the retry loop.
func (e *PanicError) Permanent() bool { return true }

// guard runs fn and converts a panic into a *PanicError.
func guard[T any](fn func() (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
