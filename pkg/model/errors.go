package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrDuplicate         = errors.New("duplicate open alert")
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionError reports a guarded transition whose precondition was not met.
type TransitionError struct {
	Op   string
	Want AlertStatus
	Got  AlertStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: alert must be %s, is %s", e.Op, e.Want, e.Got)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
