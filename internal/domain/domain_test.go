package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDeparture_SellableCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dep  Departure
		want int
	}{
		{"plain", Departure{TotalCapacity: 40}, 40},
		{"blocked and overbooked", Departure{TotalCapacity: 40, BlockedSeats: 4, OverbookingAllowance: 2}, 38},
		{"never negative", Departure{TotalCapacity: 2, BlockedSeats: 5}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.dep.SellableCapacity())
		})
	}
}

func TestNewInventoryState_ClampsBookable(t *testing.T) {
	t.Parallel()

	st := NewInventoryState(5, 4, 3)
	require.Equal(t, -2, st.AvailableSeats)
	require.Equal(t, 0, st.BookableSeats)

	st = NewInventoryState(5, 3, 0)
	require.Equal(t, 2, st.AvailableSeats)
	require.Equal(t, 2, st.BookableSeats)
}

func TestRemainingMinutes(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, 15, RemainingMinutes(now.Add(15*time.Minute), now))
	require.Equal(t, 1, RemainingMinutes(now.Add(10*time.Second), now))
	require.Equal(t, 2, RemainingMinutes(now.Add(61*time.Second), now))
	require.Equal(t, 0, RemainingMinutes(now.Add(-time.Minute), now))
}

func TestHold_ActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	h := Hold{Status: HoldActive, ExpiresAt: now.Add(time.Minute)}
	require.True(t, h.ActiveAt(now))
	require.False(t, h.ActiveAt(now.Add(time.Minute)), "expiry instant is already inactive")

	h.Status = HoldCancelled
	require.False(t, h.ActiveAt(now))
}

func TestScope(t *testing.T) {
	t.Parallel()

	dep := uuid.New()
	require.Equal(t, ScopeSlot, SlotScope(dep).Kind())
	require.Equal(t, dep, SlotScope(dep).Key())

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	res := uuid.New()
	r := RangeScope(res, start, start.Add(48*time.Hour))
	require.Equal(t, ScopeRange, r.Kind())
	require.Equal(t, res, r.Key())
	require.NoError(t, r.Validate())
	require.True(t, r.Overlaps(start.Add(24*time.Hour), start.Add(72*time.Hour)))
	require.False(t, r.Overlaps(start.Add(48*time.Hour), start.Add(72*time.Hour)), "ranges are half-open")

	require.ErrorIs(t, RangeScope(res, start, start).Validate(), ErrInvalidRange)
	require.ErrorIs(t, Scope{}.Validate(), ErrValidation)
}

func TestCodeOfAndKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
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
		{errors.Mark(errors.New("bad id"), ErrValidation), "VALIDATION", KindValidation},
		{errors.Wrap(ErrDepartureNotFound, "load"), "DEPARTURE_NOT_FOUND", KindNotFound},
		{ErrResourceNotFound, "RESOURCE_NOT_FOUND", KindNotFound},
		{ErrHoldNotFound, "HOLD_NOT_FOUND", KindNotFound},
		{ErrCheckoutNotFound, "CHECKOUT_NOT_FOUND", KindNotFound},
		{ErrBookingNotFound, "BOOKING_NOT_FOUND", KindNotFound},
		{errors.Wrapf(ErrInsufficientInventory, "want %d", 3), "INSUFFICIENT_INVENTORY", KindInsufficientInventory},
		{ErrDepartureNotBookable, "DEPARTURE_NOT_BOOKABLE", KindNotBookable},
		{ErrHoldExpired, "HOLD_EXPIRED", KindHoldExpired},
		{ErrBookingConfirmed, "BOOKING_CONFIRMED", KindConflict},
		{ErrCheckoutClosed, "CHECKOUT_CLOSED", KindConflict},
		{errors.Wrap(ErrIdempotencyConflict, "key k1"), "IDEMPOTENCY_CONFLICT", KindConflict},
		{ErrSeatCountExceedsHold, "SEAT_COUNT_EXCEEDS_HOLD", KindConflict},
		{errors.Wrap(ErrConflict, "hold exists"), "CONFLICT", KindConflict},
		{ErrSerializationFailure, "TRANSIENT", KindTransient},
		{Transient(errors.New("connection reset")), "TRANSIENT", KindTransient},
		{errors.New("boom"), "INTERNAL", KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.code, CodeOf(tc.err))
			require.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	t.Parallel()

	for i, a := range taxonomy {
		for j, b := range taxonomy {
			if i == j {
				continue
			}
			require.Falsef(t, errors.Is(a.err, b.err), "%q must not match %q", a.err, b.err)
		}
	}
	require.False(t, errors.Is(errors.Wrap(ErrConflict, "x"), ErrIdempotencyConflict))
	require.False(t, errors.Is(errors.Mark(errors.New("bad id"), ErrValidation), ErrPaymentDeclined))
}

func TestReleaseReason_Status(t *testing.T) {
	t.Parallel()

	st, err := ReasonManual.Status()
	require.NoError(t, err)
	require.Equal(t, HoldCancelled, st)

	_, err = ReasonExpired.Status()
	require.ErrorIs(t, err, ErrInvalidReason)
}
