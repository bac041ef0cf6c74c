package reservation

import (
	"errors"
	"fmt"
)

// Kind tells callers which of the reserve outcomes they got without having
// to inspect error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindSoldOut
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindSoldOut:
		return "sold_out"
	case KindTransient:
		return "transient_store_failure"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSoldOut         = errors.New("not enough tickets available")
	ErrTransient       = errors.New("transient store failure")

	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	ErrQuantityTooLarge = fmt.Errorf("%w: quantity exceeds the per-reservation limit", ErrInvalidArgument)
	ErrInvalidEventID   = fmt.Errorf("%w: event id must be a UUID", ErrInvalidArgument)
	ErrEventNotFound    = fmt.Errorf("%w: event not found", ErrInvalidArgument)
)

// Error is returned by every failed reserve call. A failed call never leaves
// tickets held or an intent behind.
type Error struct {
	Kind     Kind
	EventID  string
	Quantity int
	// Available is how many tickets the call could claim before it gave up.
	// Only set for KindSoldOut.
	Available int
	// Retryable is false for store failures that repeating will not fix.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSoldOut:
		return fmt.Sprintf("reserve %d tickets for event %s: %v (%d claimable)", e.Quantity, e.EventID, ErrSoldOut, e.Available)
	default:
		return fmt.Sprintf("reserve %d tickets for event %s: %v", e.Quantity, e.EventID, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrSoldOut:
		return e.Kind == KindSoldOut
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	}
	return false
}

// KindOf reports the Kind of a reserve error, or KindUnknown for anything
// that did not come from Reserve.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient && e.Retryable
}
