package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrModelUnavailable = errors.New("ranking model unavailable")
	ErrInsufficientData = errors.New("insufficient data")
	ErrDatasetLeakage   = errors.New("dataset split leakage")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// InsufficientDataError reports a training precondition that was not met.
type InsufficientDataError struct {
	What     string
	Observed int
	Required int
}

func (e *InsufficientDataError) Error() string {
	what := e.What
	if what == "" {
		what = "positives"
	}
	return fmt.Sprintf("insufficient data: %d %s, need at least %d", e.Observed, what, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
