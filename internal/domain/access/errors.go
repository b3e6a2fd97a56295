package access

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicatePending = errors.New("a pending request already exists for this doctor, patient and scope")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrBadState         = errors.New("invalid state")
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrStaleState lo devuelven los repos cuando pierden el compare-and-swap.
	// El service lo traduce a ErrBadState.
	ErrStaleState = errors.New("stale state")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Message devuelve el texto para el usuario. Los errores de estado van
// explícitos ("invalid state: request already approved").
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrBadState),
		errors.Is(err, ErrDuplicatePending):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "service temporarily unavailable, please retry"
	default:
		return "internal error"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicatePending), errors.Is(err, ErrBadState):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
