package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

// Snapshotter runs fn inside a read-only consistent snapshot.
type Snapshotter interface {
	WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Checker is the read path used before offering a slot to a customer.
type Checker struct {
	calc *Calculator
	snap Snapshotter
}

func NewChecker(calc *Calculator, snap Snapshotter) *Checker {
	return &Checker{calc: calc, snap: snap}
}

// CheckAvailability reports whether at least one more unit is obtainable in
// scope. Missing or inactive targets fail with a not-found error.
func (c *Checker) CheckAvailability(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (bool, error) {
	var available bool
	err := c.snap.WithReadTx(ctx, func(ctx context.Context) error {
		facts, st, err := c.calc.Snapshot(ctx, scope, excludeBookingID)
		if err != nil {
			return err
		}
		if !facts.Bookable {
			return inactive(scope)
		}
		available = st.BookableSeats >= 1
		return nil
	})
	return available, err
}

// State returns the derived state for scope from one consistent read.
func (c *Checker) State(ctx context.Context, scope domain.Scope) (domain.InventoryState, error) {
	var st domain.InventoryState
	err := c.snap.WithReadTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = c.calc.State(ctx, scope, uuid.Nil)
		return err
	})
	return st, err
}

func inactive(scope domain.Scope) error {
	if scope.Kind() == domain.ScopeSlot {
		return errors.Wrapf(domain.ErrDepartureNotFound, "departure %s is not active", scope.DepartureID)
	}
	return errors.Wrapf(domain.ErrResourceNotFound, "resource %s is not active", scope.ResourceID)
}
