package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
)

// Catalog exposes the capacity facts owned by catalog management.
type Catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
	GetResource(ctx context.Context, id uuid.UUID) (domain.Resource, error)
}

// Ledger sums hold and booking rows for a scope. Implementations use the
// transaction carried by ctx when there is one.
type Ledger interface {
	// SumActiveHolds counts seats of ACTIVE holds with expires_at > now. For
	// range scopes only holds overlapping the range are counted.
	SumActiveHolds(ctx context.Context, scope domain.Scope, now time.Time) (int, error)
	// SumConfirmedSeats counts seats of CONFIRMED bookings, skipping
	// excludeBookingID when it is not uuid.Nil.
	SumConfirmedSeats(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (int, error)
}

// Capacity is what a model knows about the target before usage is applied.
type Capacity struct {
	Sellable  int
	Bookable  bool
	Version   int64
	UnitPrice decimal.Decimal
}

// Model is one inventory strategy. Slot and range inventories share the
// contract and differ in how capacity is resolved and usage is overlapped.
type Model interface {
	Kind() domain.ScopeKind
	Capacity(ctx context.Context, scope domain.Scope) (Capacity, error)
	Usage(ctx context.Context, scope domain.Scope, now time.Time, excludeBookingID uuid.UUID) (held, confirmed int, err error)
}

// SlotInventory sells discrete seats on a scheduled departure.
type SlotInventory struct {
	catalog Catalog
	ledger  Ledger
}

func NewSlotInventory(catalog Catalog, ledger Ledger) *SlotInventory {
	return &SlotInventory{catalog: catalog, ledger: ledger}
}

func (m *SlotInventory) Kind() domain.ScopeKind { return domain.ScopeSlot }

func (m *SlotInventory) Capacity(ctx context.Context, scope domain.Scope) (Capacity, error) {
	dep, err := m.catalog.GetDeparture(ctx, scope.DepartureID)
	if err != nil {
		return Capacity{}, err
	}
	return Capacity{
		Sellable:  dep.SellableCapacity(),
		Bookable:  dep.Bookable(),
		Version:   dep.Version,
		UnitPrice: dep.UnitPrice,
	}, nil
}

func (m *SlotInventory) Usage(ctx context.Context, scope domain.Scope, now time.Time, excludeBookingID uuid.UUID) (int, int, error) {
	return usage(ctx, m.ledger, scope, now, excludeBookingID)
}

// RangeInventory sells units of a resource over date ranges. Every
// temporally overlapping hold or booking consumes capacity for the whole
// requested range.
type RangeInventory struct {
	catalog Catalog
	ledger  Ledger
}

func NewRangeInventory(catalog Catalog, ledger Ledger) *RangeInventory {
	return &RangeInventory{catalog: catalog, ledger: ledger}
}

func (m *RangeInventory) Kind() domain.ScopeKind { return domain.ScopeRange }

func (m *RangeInventory) Capacity(ctx context.Context, scope domain.Scope) (Capacity, error) {
	res, err := m.catalog.GetResource(ctx, scope.ResourceID)
	if err != nil {
		return Capacity{}, err
	}
	return Capacity{
		Sellable:  max(0, res.Capacity),
		Bookable:  res.Active,
		UnitPrice: res.UnitPrice,
	}, nil
}

func (m *RangeInventory) Usage(ctx context.Context, scope domain.Scope, now time.Time, excludeBookingID uuid.UUID) (int, int, error) {
	return usage(ctx, m.ledger, scope, now, excludeBookingID)
}

func usage(ctx context.Context, ledger Ledger, scope domain.Scope, now time.Time, excludeBookingID uuid.UUID) (int, int, error) {
	held, err := ledger.SumActiveHolds(ctx, scope, now)
	if err != nil {
		return 0, 0, errors.Wrap(err, "sum active holds")
	}
	confirmed, err := ledger.SumConfirmedSeats(ctx, scope, excludeBookingID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "sum confirmed seats")
	}
	return held, confirmed, nil
}
