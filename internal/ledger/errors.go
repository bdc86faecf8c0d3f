package ledger

import (
	"errors"
	"fmt"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

var (
	// ErrNoUserSignedIn is returned before any read when no identity is available.
	ErrNoUserSignedIn = errors.New("no user signed in")
	// ErrAlreadyClockedIn is returned when today's last shift is still open.
	ErrAlreadyClockedIn = errors.New("already clocked in, please clock out first")
	// ErrNoActiveShift is returned when neither today nor yesterday has an open shift.
	ErrNoActiveShift = errors.New("no active shift found to clock out from, please clock in first")
	// ErrCorruptRecord is returned when a stored day record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt day record")
	// ErrInvalidDay is returned for malformed day keys.
	ErrInvalidDay = errors.New("invalid day")
)

// StoreUnavailableError reports a transaction that could not commit.
type StoreUnavailableError struct {
	Reason string
	Err    error
}

func (e *StoreUnavailableError) Error() string {
	return "store unavailable: " + e.Reason
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// classify keeps protocol errors as they are and reports everything else
// coming out of the store as StoreUnavailableError.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoUserSignedIn),
		errors.Is(err, ErrAlreadyClockedIn),
		errors.Is(err, ErrNoActiveShift),
		errors.Is(err, ErrCorruptRecord),
		errors.Is(err, ErrInvalidDay):
		return err
	}
	var sue *StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	if !errors.Is(err, docstore.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", docstore.ErrStoreUnavailable, err)
	}
	return &StoreUnavailableError{Reason: err.Error(), Err: err}
}
