package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "inventory"

// Calculator derives InventoryState from capacity facts and the ledger. It
// never caches: every call recomputes inside whatever transaction ctx carries.
type Calculator struct {
	models map[domain.ScopeKind]Model
	clock  clock.Clock
}

func NewCalculator(clk clock.Clock, models ...Model) *Calculator {
	c := &Calculator{models: make(map[domain.ScopeKind]Model, len(models)), clock: clk}
	for _, m := range models {
		c.models[m.Kind()] = m
	}
	return c
}

// ComputeState returns the state of a departure's seat inventory.
func (c *Calculator) ComputeState(ctx context.Context, departureID uuid.UUID) (domain.InventoryState, error) {
	return c.State(ctx, domain.SlotScope(departureID), uuid.Nil)
}

func (c *Calculator) State(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (domain.InventoryState, error) {
	_, st, err := c.Snapshot(ctx, scope, excludeBookingID)
	return st, err
}

// Snapshot returns the capacity facts together with the derived state so
// admission can check bookability and counts from the same read.
func (c *Calculator) Snapshot(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (facts Capacity, st domain.InventoryState, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "inventory.Snapshot")
	span.SetAttributes(
		attribute.String("scope.kind", string(scope.Kind())),
		attribute.String("scope.key", scope.Key().String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := scope.Validate(); err != nil {
		return Capacity{}, domain.InventoryState{}, err
	}
	m, ok := c.models[scope.Kind()]
	if !ok {
		return Capacity{}, domain.InventoryState{}, errors.Newf("no inventory model for %s scopes", scope.Kind())
	}

	facts, err = m.Capacity(ctx, scope)
	if err != nil {
		return Capacity{}, domain.InventoryState{}, err
	}
	held, confirmed, err := m.Usage(ctx, scope, c.clock.Now(), excludeBookingID)
	if err != nil {
		return Capacity{}, domain.InventoryState{}, err
	}
	return facts, domain.NewInventoryState(facts.Sellable, held, confirmed), nil
}
