package singular

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConstructionFailed    = errors.New("singleton construction failed")
	ErrReentrantConstruction = errors.New("reentrant singleton construction")
	ErrUnknownType           = errors.New("unknown singleton type")
	ErrLockTimeout           = errors.New("construction lock wait timeout")
	ErrRetired               = errors.New("singleton retired")
	ErrAlreadyRegistered     = errors.New("singleton type already registered")
	ErrInUse                 = errors.New("singleton still in use")
	ErrReleased              = errors.New("reference already released")
	ErrInvalidDriverType     = errors.New("invalid driver type")
)

// ConstructionError carries the failure of a build function or a first
// construct hook for a type.
type ConstructionError struct {
	Type string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %s: %v", e.Type, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstructionFailed
}

func CheckConstructionFailed(err error) bool {
	var cerr *ConstructionError
	return errors.As(err, &cerr)
}

func CheckReentrant(err error) bool {
	return errors.Is(err, ErrReentrantConstruction)
}

func CheckUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}

func CheckTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrLockTimeout) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
