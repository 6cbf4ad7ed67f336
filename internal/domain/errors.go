package domain

import "github.com/cockroachdb/errors"

// Kind groups errors by how callers are expected to react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientInventory
	KindNotBookable
	KindHoldExpired
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientInventory:
		return "insufficient_inventory"
	case KindNotBookable:
		return "not_bookable"
	case KindHoldExpired:
		return "hold_expired"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Category errors. Errors built outside this package (bad ids, malformed
// bodies) are marked with one of these; the concrete sentinels below are
// classified through the table instead, so each keeps its own identity.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient failure")
)

var (
	ErrInvalidSeatCount = errors.New("seat count must be at least 1")
	ErrInvalidHoldType  = errors.New("unknown hold type")
	ErrInvalidSource    = errors.New("unknown hold source")
	ErrInvalidRange     = errors.New("range start must be before end")
	ErrInvalidReason    = errors.New("unsupported release reason")
	ErrPaymentDeclined  = errors.New("payment was not successful")

	ErrDepartureNotFound = errors.New("departure not found")
	ErrResourceNotFound  = errors.New("resource not found")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrCheckoutNotFound  = errors.New("checkout not found")
	ErrBookingNotFound   = errors.New("booking not found")

	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrDepartureNotBookable  = errors.New("departure not bookable")
	ErrHoldExpired           = errors.New("hold expired")

	ErrBookingConfirmed     = errors.New("booking already confirmed")
	ErrCheckoutClosed       = errors.New("checkout already closed")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with different request")
	ErrSeatCountExceedsHold = errors.New("booking seat count exceeds hold")

	ErrSerializationFailure = errors.New("serialization failure")
)

// taxonomy is searched in order: concrete sentinels first, categories last.
var taxonomy = []struct {
	err  error
	code string
	kind Kind
}{
	{ErrInvalidSeatCount, "INVALID_SEAT_COUNT", KindValidation},
	{ErrInvalidHoldType, "INVALID_HOLD_TYPE", KindValidation},
	{ErrInvalidSource, "INVALID_SOURCE", KindValidation},
	{ErrInvalidRange, "INVALID_RANGE", KindValidation},
	{ErrInvalidReason, "INVALID_REASON", KindValidation},
	{ErrPaymentDeclined, "PAYMENT_DECLINED", KindValidation},
	{ErrDepartureNotFound, "DEPARTURE_NOT_FOUND", KindNotFound},
	{ErrResourceNotFound, "RESOURCE_NOT_FOUND", KindNotFound},
	{ErrHoldNotFound, "HOLD_NOT_FOUND", KindNotFound},
	{ErrCheckoutNotFound, "CHECKOUT_NOT_FOUND", KindNotFound},
	{ErrBookingNotFound, "BOOKING_NOT_FOUND", KindNotFound},
	{ErrInsufficientInventory, "INSUFFICIENT_INVENTORY", KindInsufficientInventory},
	{ErrDepartureNotBookable, "DEPARTURE_NOT_BOOKABLE", KindNotBookable},
	{ErrHoldExpired, "HOLD_EXPIRED", KindHoldExpired},
	{ErrBookingConfirmed, "BOOKING_CONFIRMED", KindConflict},
	{ErrCheckoutClosed, "CHECKOUT_CLOSED", KindConflict},
	{ErrIdempotencyConflict, "IDEMPOTENCY_CONFLICT", KindConflict},
	{ErrSeatCountExceedsHold, "SEAT_COUNT_EXCEEDS_HOLD", KindConflict},
	{ErrSerializationFailure, "TRANSIENT", KindTransient},

	{ErrValidation, "VALIDATION", KindValidation},
	{ErrNotFound, "NOT_FOUND", KindNotFound},
	{ErrConflict, "CONFLICT", KindConflict},
	{ErrTransient, "TRANSIENT", KindTransient},
}

// CodeOf returns the stable machine-readable code for err, or "INTERNAL".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// KindOf classifies err. Business kinds are never retried automatically;
// only KindTransient is eligible for caller-side retry. A transient mark
// wins over whatever it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrTransient) {
		return KindTransient
	}
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindUnknown
}

// Transient marks an infrastructure failure as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransient)
}
