package txn

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound means the entity is not cache-resident. Callers turn
	// it into a "reload your session" signal; it is not a fault.
	ErrEntityNotFound = errors.New("entity not cached")
	ErrMutationPanic  = errors.New("mutation panicked")
)

// BusinessError is an expected precondition failure (insufficient balance,
// already claimed, ...). It is reported to the client and never logged as a fault.
type BusinessError struct {
	Message string
}

func (e *BusinessError) Error() string { return e.Message }

// Reject builds a BusinessError.
func Reject(format string, args ...any) error {
	return &BusinessError{Message: fmt.Sprintf(format, args...)}
}

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNotFound Outcome = "entity_not_found"
	OutcomeBusiness Outcome = "business_error"
	OutcomeInternal Outcome = "internal_error"
)

// Classify maps a coordinator result to its Outcome.
func Classify(err error) Outcome {
	var be *BusinessError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrEntityNotFound):
		return OutcomeNotFound
	case errors.As(err, &be):
		return OutcomeBusiness
	default:
		return OutcomeInternal
	}
}
