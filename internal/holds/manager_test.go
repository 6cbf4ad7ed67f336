package holds_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/adapters/memory"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/holds"
	"github.com/robertarktes/departure-inventory/internal/inventory"
	"github.com/robertarktes/departure-inventory/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	catalog *memory.Catalog
	clock   *clock.Manual
	calc    *inventory.Calculator
	manager *holds.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	catalog := memory.NewCatalog()
	clk := clock.NewManual(t0)
	calc := inventory.NewCalculator(clk,
		inventory.NewSlotInventory(catalog, store),
		inventory.NewRangeInventory(catalog, store),
	)
	return &fixture{
		store:   store,
		catalog: catalog,
		clock:   clk,
		calc:    calc,
		manager: holds.NewManager(store, calc, clk),
	}
}

func (f *fixture) departure(capacity int) uuid.UUID {
	id := uuid.New()
	f.catalog.PutDeparture(domain.Departure{
		ID:            id,
		ResourceID:    uuid.New(),
		StartsAt:      t0.Add(72 * time.Hour),
		TotalCapacity: capacity,
		Status:        domain.DepartureScheduled,
	})
	return id
}

func cartHold(dep uuid.UUID, seats int) holds.CreateHoldInput {
	return holds.CreateHoldInput{
		Scope:     domain.SlotScope(dep),
		SeatCount: seats,
		Type:      domain.HoldCart,
		Source:    domain.SourceWeb,
		ActorID:   "customer-1",
		SessionID: "session-1",
	}
}

func TestCreateHold_AdmitsWithinCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5)

	h, err := f.manager.CreateHold(ctx, cartHold(dep, 3))
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, h.Status)
	assert.Equal(t, t0.Add(15*time.Minute), h.ExpiresAt)

	st, err := f.calc.ComputeState(ctx, dep)
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryState{SellableCapacity: 5, HeldSeats: 3, ConfirmedSeats: 0, AvailableSeats: 2, BookableSeats: 2}, st)

	recs := f.store.Outbox()
	require.Len(t, recs, 1)
	assert.Equal(t, outbox.EventHoldCreated, recs[0].EventType)
}

func TestCreateHold_FiveSeatScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5)
	available := func() int {
		st, err := f.calc.ComputeState(ctx, dep)
		require.NoError(t, err)
		return st.AvailableSeats
	}

	a, err := f.manager.CreateHold(ctx, cartHold(dep, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, available())

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 3))
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
	assert.Equal(t, "INSUFFICIENT_INVENTORY", domain.CodeOf(err))
	assert.Equal(t, 2, available())

	ok, err := f.manager.ReleaseHold(ctx, a.ID, domain.ReasonCancelled, "customer-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, available())

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, available())

	var events []string
	for _, rec := range f.store.Outbox() {
		events = append(events, rec.EventType)
	}
	assert.Equal(t, []string{outbox.EventHoldCreated, outbox.EventHoldReleased, outbox.EventHoldCreated}, events)
}

func TestCreateHold_NoOversellUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const capacity, attempts = 7, 40
	dep := f.departure(capacity)

	var admitted, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.manager.CreateHold(ctx, cartHold(dep, 1))
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, domain.ErrInsufficientInventory):
				refused.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, capacity, admitted.Load())
	assert.EqualValues(t, attempts-capacity, refused.Load())

	st, err := f.calc.ComputeState(ctx, dep)
	require.NoError(t, err)
	assert.Equal(t, capacity, st.HeldSeats)
	assert.Equal(t, 0, st.BookableSeats)
}

func TestCreateHold_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5)

	in := cartHold(dep, 0)
	_, err := f.manager.CreateHold(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidSeatCount)

	in = cartHold(dep, 1)
	in.Type = "FOREVER"
	_, err = f.manager.CreateHold(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidHoldType)

	in = cartHold(dep, 1)
	in.Source = "FAX"
	_, err = f.manager.CreateHold(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidSource)

	_, err = f.manager.CreateHold(ctx, cartHold(uuid.New(), 1))
	require.ErrorIs(t, err, domain.ErrDepartureNotFound)

	assert.Empty(t, f.store.Outbox())
}

func TestCreateHold_RefusesUnbookableDeparture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5)
	d, err := f.catalog.GetDeparture(ctx, dep)
	require.NoError(t, err)
	d.Status = domain.DepartureCancelled
	f.catalog.PutDeparture(d)

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.ErrorIs(t, err, domain.ErrDepartureNotBookable)
	assert.Equal(t, "DEPARTURE_NOT_BOOKABLE", domain.CodeOf(err))
}

func TestCreateHold_RecordsDepartureVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(5)
	d, err := f.catalog.GetDeparture(ctx, dep)
	require.NoError(t, err)
	d.BlockedSeats = 1
	f.catalog.PutDeparture(d)

	h, err := f.manager.CreateHold(ctx, cartHold(dep, 4))
	require.NoError(t, err)
	assert.EqualValues(t, d.Version+1, h.DepartureVersion)

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
}

func TestHold_ExpiredHoldStopsCounting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(4)

	_, err := f.manager.CreateHold(ctx, cartHold(dep, 4))
	require.NoError(t, err)

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	f.clock.Advance(15 * time.Minute)

	st, err := f.calc.ComputeState(ctx, dep)
	require.NoError(t, err)
	assert.Equal(t, 0, st.HeldSeats)
	assert.Equal(t, 4, st.BookableSeats)

	_, err = f.manager.CreateHold(ctx, cartHold(dep, 4))
	require.NoError(t, err)
}

func TestReleaseHold_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(2)
	h, err := f.manager.CreateHold(ctx, cartHold(dep, 2))
	require.NoError(t, err)

	ok, err := f.manager.ReleaseHold(ctx, h.ID, domain.ReasonManual, "agent-7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.manager.ReleaseHold(ctx, h.ID, domain.ReasonManual, "agent-7")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.manager.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCancelled, got.Status)
	assert.Equal(t, domain.ReasonManual, got.Reason)
	assert.Equal(t, "agent-7", got.TerminatedBy)
	require.NotNil(t, got.TerminatedAt)

	st, err := f.calc.ComputeState(ctx, dep)
	require.NoError(t, err)
	assert.Equal(t, 2, st.BookableSeats)
}

func TestReleaseHold_UnknownHoldReturnsFalse(t *testing.T) {
	ok, err := newFixture(t).manager.ReleaseHold(context.Background(), uuid.New(), domain.ReasonCancelled, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseHold_RejectsExpiredReason(t *testing.T) {
	_, err := newFixture(t).manager.ReleaseHold(context.Background(), uuid.New(), domain.ReasonExpired, "x")
	require.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestReleaseHold_ConfirmAfterExpiryFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(2)
	h, err := f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)

	ok, err := f.manager.ReleaseHold(ctx, h.ID, domain.ReasonConfirmed, "customer-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.manager.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, got.Status)
}

func TestExtendHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(3)
	h, err := f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	ok, err := f.manager.ExtendHold(ctx, h.ID, domain.HoldPaymentPending)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.manager.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldPaymentPending, got.Type)
	assert.Equal(t, t0.Add(40*time.Minute), got.ExpiresAt)

	f.clock.Advance(31 * time.Minute)
	ok, err = f.manager.ExtendHold(ctx, h.ID, domain.HoldPaymentPending)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.manager.ExtendHold(ctx, h.ID, "NOPE")
	require.ErrorIs(t, err, domain.ErrInvalidHoldType)
}

func TestActiveHolds_RemainingMinutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dep := f.departure(10)
	kept, err := f.manager.CreateHold(ctx, cartHold(dep, 2))
	require.NoError(t, err)
	gone, err := f.manager.CreateHold(ctx, cartHold(dep, 1))
	require.NoError(t, err)
	_, err = f.manager.ReleaseHold(ctx, gone.ID, domain.ReasonCancelled, "customer-1")
	require.NoError(t, err)

	f.clock.Advance(4*time.Minute + 30*time.Second)

	active, err := f.manager.ActiveHolds(ctx, dep)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)
	assert.Equal(t, 11, active[0].RemainingMinutes)
}

func TestCreateHold_RangeOverlap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := uuid.New()
	f.catalog.PutResource(domain.Resource{ID: room, Name: "double", Capacity: 1, Active: true})

	day := 24 * time.Hour
	in := holds.CreateHoldInput{
		Scope:     domain.RangeScope(room, t0, t0.Add(3*day)),
		SeatCount: 1,
		Type:      domain.HoldCart,
		Source:    domain.SourceOTA,
	}
	_, err := f.manager.CreateHold(ctx, in)
	require.NoError(t, err)

	in.Scope = domain.RangeScope(room, t0.Add(2*day), t0.Add(4*day))
	_, err = f.manager.CreateHold(ctx, in)
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	in.Scope = domain.RangeScope(room, t0.Add(3*day), t0.Add(5*day))
	_, err = f.manager.CreateHold(ctx, in)
	require.NoError(t, err)
}

type recordingAuditor struct {
	entries []domain.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, entries ...domain.AuditEntry) error {
	a.entries = append(a.entries, entries...)
	return nil
}

func TestManager_AuditsOnlyOwnTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aud := &recordingAuditor{}
	m := holds.NewManager(f.store, f.calc, f.clock, holds.WithAuditor(aud))
	dep := f.departure(3)

	_, err := m.CreateHold(ctx, cartHold(dep, 1))
	require.NoError(t, err)
	require.Len(t, aud.entries, 1)
	assert.Equal(t, outbox.EventHoldCreated, aud.entries[0].Action)

	boom := errors.New("boom")
	err = f.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.CreateHold(ctx, cartHold(dep, 1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Len(t, aud.entries, 1)

	st, err := f.calc.ComputeState(ctx, dep)
	require.NoError(t, err)
	assert.Equal(t, 1, st.HeldSeats)
}
