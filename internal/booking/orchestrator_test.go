package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/adapters/memory"
	"github.com/robertarktes/departure-inventory/internal/booking"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/holds"
	"github.com/robertarktes/departure-inventory/internal/inventory"
	"github.com/robertarktes/departure-inventory/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

type fakePayments struct {
	mu         sync.Mutex
	decline    bool
	collectErr error
	voidErr    error
	next       int
	collects   []uuid.UUID
	voids      []string
}

func (p *fakePayments) CollectPayment(_ context.Context, ref uuid.UUID, _ decimal.Decimal) (domain.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collects = append(p.collects, ref)
	if p.collectErr != nil {
		return domain.PaymentResult{}, p.collectErr
	}
	if p.decline {
		return domain.PaymentResult{Success: false}, nil
	}
	p.next++
	return domain.PaymentResult{Success: true, Reference: "pay-" + ref.String()[:8] + "-" + string(rune('a'+p.next))}, nil
}

func (p *fakePayments) VoidOrRefund(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voids = append(p.voids, ref)
	return p.voidErr
}

type fixture struct {
	store    *memory.Store
	catalog  *memory.Catalog
	clock    *clock.Manual
	calc     *inventory.Calculator
	holds    *holds.Manager
	payments *fakePayments
	orch     *booking.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		catalog:  memory.NewCatalog(),
		clock:    clock.NewManual(t0),
		payments: &fakePayments{},
	}
	f.calc = inventory.NewCalculator(f.clock,
		inventory.NewSlotInventory(f.catalog, f.store),
		inventory.NewRangeInventory(f.catalog, f.store),
	)
	f.holds = holds.NewManager(f.store, f.calc, f.clock)
	f.orch = booking.NewOrchestrator(f.store, f.holds, f.catalog, f.payments, f.clock)
	return f
}

func (f *fixture) departure(capacity int, price string) uuid.UUID {
	id := uuid.New()
	f.catalog.PutDeparture(domain.Departure{
		ID:            id,
		ResourceID:    uuid.New(),
		StartsAt:      t0.Add(48 * time.Hour),
		TotalCapacity: capacity,
		Status:        domain.DepartureScheduled,
		UnitPrice:     decimal.RequireFromString(price),
	})
	return id
}

func (f *fixture) state(t *testing.T, dep uuid.UUID) domain.InventoryState {
	t.Helper()
	st, err := f.calc.ComputeState(context.Background(), dep)
	require.NoError(t, err)
	return st
}

func (f *fixture) events() []string {
	var out []string
	for _, rec := range f.store.Outbox() {
		out = append(out, rec.EventType)
	}
	return out
}

func initiate(dep uuid.UUID, seats int) booking.InitiateInput {
	return booking.InitiateInput{
		Scope:     domain.SlotScope(dep),
		SeatCount: seats,
		Guest:     domain.Guest{Name: "Ada Lovelace", Email: "ada@example.com"},
		Source:    domain.SourceWeb,
		ActorID:   "customer-42",
		SessionID: "sess-1",
	}
}

func TestInitiateBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(4, "120.50")

	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 3))
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutHoldCreated, c.State)
	assert.True(t, decimal.RequireFromString("361.50").Equal(c.Amount))

	hold, err := f.holds.GetHold(ctx, c.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCart, hold.Type)
	assert.Equal(t, c.ID, hold.CheckoutID)
	assert.Equal(t, 3, f.state(t, dep).HeldSeats)
}

func TestInitiateBooking_InsufficientInventoryLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(2, "10")

	_, err := f.orch.InitiateBooking(ctx, initiate(dep, 3))
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
	assert.Equal(t, domain.KindInsufficientInventory, domain.KindOf(err))
	assert.Empty(t, f.store.Outbox())
	assert.Equal(t, 0, f.state(t, dep).HeldSeats)
}

func TestInitiateBooking_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "10")

	in := initiate(dep, 2)
	in.IdempotencyKey = "req-1"
	first, err := f.orch.InitiateBooking(ctx, in)
	require.NoError(t, err)
	again, err := f.orch.InitiateBooking(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, f.state(t, dep).HeldSeats)

	in.SeatCount = 3
	_, err = f.orch.InitiateBooking(ctx, in)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestInitiateBooking_IdempotencyKeyComparesRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := uuid.New()
	f.catalog.PutResource(domain.Resource{ID: room, Name: "cabin", Capacity: 3, Active: true, UnitPrice: decimal.NewFromInt(80)})

	in := initiate(uuid.Nil, 1)
	in.Scope = domain.RangeScope(room, t0, t0.Add(2*24*time.Hour))
	in.IdempotencyKey = "req-range"
	first, err := f.orch.InitiateBooking(ctx, in)
	require.NoError(t, err)

	again, err := f.orch.InitiateBooking(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	in.Scope = domain.RangeScope(room, t0.Add(5*24*time.Hour), t0.Add(7*24*time.Hour))
	_, err = f.orch.InitiateBooking(ctx, in)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", domain.CodeOf(err))
}

func TestProceedToPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "10")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	c, err = f.orch.ProceedToPayment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutAwaitingPayment, c.State)

	hold, err := f.holds.GetHold(ctx, c.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldPaymentPending, hold.Type)
	assert.Equal(t, t0.Add(35*time.Minute), hold.ExpiresAt)

	t.Run("retry is a no-op", func(t *testing.T) {
		f.clock.Advance(time.Minute)
		again, err := f.orch.ProceedToPayment(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CheckoutAwaitingPayment, again.State)
		hold, err := f.holds.GetHold(ctx, c.HoldID)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(35*time.Minute), hold.ExpiresAt)
	})
}

func TestProceedToPayment_ExpiredHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "10")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.orch.ProceedToPayment(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrHoldExpired)

	got, err := f.orch.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.State)
	assert.Equal(t, "HOLD_EXPIRED", got.FailureCode)

	_, err = f.orch.ProceedToPayment(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrHoldExpired)
}

func TestConfirmBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "99.99")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 2))
	require.NoError(t, err)
	_, err = f.orch.ProceedToPayment(ctx, c.ID)
	require.NoError(t, err)

	res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.RefundRequested)
	assert.Equal(t, c.ID, res.Booking.ID)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, 2, res.Booking.SeatCount)
	assert.True(t, decimal.RequireFromString("199.98").Equal(res.Booking.TotalAmount))
	require.Len(t, f.payments.collects, 1)

	st := f.state(t, dep)
	assert.Equal(t, 0, st.HeldSeats)
	assert.Equal(t, 2, st.ConfirmedSeats)
	assert.Equal(t, 3, st.BookableSeats)

	hold, err := f.holds.GetHold(ctx, c.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldConfirmed, hold.Status)
	assert.Contains(t, f.events(), outbox.EventBookingConfirmed)

	t.Run("duplicate confirmation replays the booking", func(t *testing.T) {
		again, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: res.Booking.PaymentReference, Succeeded: true})
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, res.Booking.ID, again.Booking.ID)
		assert.Equal(t, 2, f.state(t, dep).ConfirmedSeats)
		assert.Empty(t, f.payments.voids)
	})

	t.Run("second payment is a conflict and gets voided", func(t *testing.T) {
		out, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-other", Succeeded: true})
		require.ErrorIs(t, err, domain.ErrBookingConfirmed)
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
		assert.True(t, out.RefundRequested)
		assert.Equal(t, []string{"pay-other"}, f.payments.voids)
		assert.Equal(t, 2, f.state(t, dep).ConfirmedSeats)
	})
}

func TestConfirmBooking_AfterExpiryFailsAndVoids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)
	_, err = f.orch.ProceedToPayment(ctx, c.ID)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-late", Succeeded: true})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.True(t, res.RefundRequested)
	assert.Equal(t, []string{"pay-late"}, f.payments.voids)

	_, err = f.orch.GetBooking(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrBookingNotFound)
	assert.Equal(t, 0, f.state(t, dep).ConfirmedSeats)

	got, err := f.orch.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.State)

	hold, err := f.holds.GetHold(ctx, c.HoldID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.HoldConfirmed, hold.Status)
}

func TestConfirmBooking_VoidFailureIsParkedInOutbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.payments.voidErr = errors.New("payments unavailable")
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-v", Succeeded: true})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	require.Equal(t, []string{"pay-v"}, f.payments.voids)
	assert.Contains(t, f.events(), outbox.EventPaymentVoidRequired)
}

func TestConfirmBooking_ExpiredHoldIsNotCharged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.False(t, res.RefundRequested)
	assert.Empty(t, f.payments.collects)
	assert.Empty(t, f.payments.voids)

	got, err := f.orch.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.State)
	assert.Equal(t, "HOLD_EXPIRED", got.FailureCode)
	assert.Contains(t, f.events(), outbox.EventCheckoutExpired)
}

func TestConfirmBooking_CollectErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		err       error
		kind      domain.Kind
		failure   string
		isDecline bool
	}{
		{"refusal is a decline", errors.Wrap(domain.ErrPaymentDeclined, "payments returned 402"), domain.KindValidation, "PAYMENT_DECLINED", true},
		{"outage stays transient", domain.Transient(errors.New("payments returned 503")), domain.KindTransient, "", false},
		{"unexpected reply is not retryable", errors.New("unexpected payment status \"PENDING\""), domain.KindUnknown, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.payments.collectErr = tc.err
			dep := f.departure(5, "50")
			c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
			require.NoError(t, err)

			_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
			assert.Equal(t, tc.isDecline, errors.Is(err, domain.ErrPaymentDeclined))

			got, err := f.orch.GetCheckout(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.CheckoutHoldCreated, got.State)
			assert.Equal(t, tc.failure, got.FailureCode)
			assert.Equal(t, 1, f.state(t, dep).HeldSeats)
		})
	}
}

func TestConfirmBooking_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 2))
	require.NoError(t, err)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-1", Succeeded: true})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created)
	assert.Empty(t, f.payments.voids)
	assert.Equal(t, 2, f.state(t, dep).ConfirmedSeats)

	var confirmed int
	for _, ev := range f.events() {
		if ev == outbox.EventBookingConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestConfirmBooking_Declined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.payments.decline = true
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)

	got, err := f.orch.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutHoldCreated, got.State)
	assert.Equal(t, "PAYMENT_DECLINED", got.FailureCode)
	assert.Equal(t, 1, f.state(t, dep).HeldSeats)

	_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-x", Succeeded: false})
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
}

func TestConfirmBooking_AfterSweepExpiredCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5, "50")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 2))
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	n, err := holds.NewSweeper(f.store, f.clock).SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-1", Succeeded: true})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.True(t, res.RefundRequested)
	assert.Empty(t, f.payments.collects)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(3, "10")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, f.state(t, dep).BookableSeats)

	got, err := f.orch.CancelBooking(ctx, c.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCancelled, got.State)
	assert.Equal(t, 3, f.state(t, dep).BookableSeats)

	hold, err := f.holds.GetHold(ctx, c.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCancelled, hold.Status)
	assert.Equal(t, domain.ReasonCancelled, hold.Reason)

	again, err := f.orch.CancelBooking(ctx, c.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCancelled, again.State)

	_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
	require.ErrorIs(t, err, domain.ErrCheckoutClosed)
	assert.Empty(t, f.payments.collects)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(3, "10")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)

	got, err := f.orch.Abandon(ctx, c.ID, "customer-42")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutAbandoned, got.State)
	assert.Contains(t, f.events(), outbox.EventCheckoutAbandoned)

	got, err = f.orch.CancelBooking(ctx, c.ID, "customer-42")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutAbandoned, got.State)
}

func TestCancelBooking_ConfirmedIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(3, "10")
	c, err := f.orch.InitiateBooking(ctx, initiate(dep, 1))
	require.NoError(t, err)
	_, err = f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{})
	require.NoError(t, err)

	_, err = f.orch.CancelBooking(ctx, c.ID, "agent-1")
	require.ErrorIs(t, err, domain.ErrBookingConfirmed)
	assert.Equal(t, 1, f.state(t, dep).ConfirmedSeats)
}

func TestCancelBooking_UnknownCheckout(t *testing.T) {
	_, err := newFixture(t).orch.CancelBooking(context.Background(), uuid.New(), "x")
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
}

func TestInitiateBooking_RangeScopePricesNights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := uuid.New()
	f.catalog.PutResource(domain.Resource{ID: room, Name: "cabin", Capacity: 2, Active: true, UnitPrice: decimal.NewFromInt(80)})

	in := initiate(uuid.Nil, 1)
	in.Scope = domain.RangeScope(room, t0, t0.Add(3*24*time.Hour))
	c, err := f.orch.InitiateBooking(ctx, in)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(240).Equal(c.Amount))

	res, err := f.orch.ConfirmBooking(ctx, c.ID, booking.PaymentConfirmation{Reference: "pay-r", Succeeded: true})
	require.NoError(t, err)
	assert.True(t, res.Created)

	st, err := f.calc.State(ctx, domain.RangeScope(room, t0.Add(24*time.Hour), t0.Add(48*time.Hour)), uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConfirmedSeats)
	assert.Equal(t, 1, st.BookableSeats)
}
