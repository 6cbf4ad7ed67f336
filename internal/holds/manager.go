package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/inventory"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "holds"

// Store is the persistence the Manager needs. Every method uses the
// transaction carried by ctx when there is one.
type Store interface {
	inventory.Ledger
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InTx(ctx context.Context) bool
	// LockScope takes the exclusive admission lock of scope until the
	// surrounding transaction ends.
	LockScope(ctx context.Context, scope domain.Scope) error
	InsertHold(ctx context.Context, hold domain.Hold) error
	GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error)
	ExtendHold(ctx context.Context, id uuid.UUID, typ domain.HoldType, expiresAt, now time.Time) (bool, error)
	TerminateHold(ctx context.Context, id uuid.UUID, status domain.HoldStatus, reason domain.ReleaseReason, actor string, now time.Time, requireUnexpired bool) (bool, error)
	ListActiveHolds(ctx context.Context, scope domain.Scope, now time.Time) ([]domain.Hold, error)
	InsertOutbox(ctx context.Context, rec outbox.Record) error
}

// Auditor appends lifecycle transitions to the audit trail.
type Auditor interface {
	Record(ctx context.Context, entries ...domain.AuditEntry) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, ...domain.AuditEntry) error { return nil }

// Manager is the only writer of hold rows.
type Manager struct {
	store   Store
	calc    *inventory.Calculator
	clock   clock.Clock
	ttls    TTLTable
	auditor Auditor
	logger  observability.Logger
}

type Option func(*Manager)

// WithTTLs overrides the default TTL table.
func WithTTLs(t TTLTable) Option {
	return func(m *Manager) {
		if len(t) > 0 {
			m.ttls = t
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) {
		if a != nil {
			m.auditor = a
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, calc *inventory.Calculator, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		calc:    calc,
		clock:   clk,
		ttls:    DefaultTTLs(),
		auditor: nopAuditor{},
		logger:  observability.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTLs() TTLTable { return m.ttls }

type CreateHoldInput struct {
	Scope      domain.Scope
	SeatCount  int
	Type       domain.HoldType
	Source     domain.HoldSource
	ActorID    string
	SessionID  string
	CheckoutID uuid.UUID
}

func (m *Manager) validate(in CreateHoldInput) (time.Duration, error) {
	if in.SeatCount < 1 {
		return 0, domain.ErrInvalidSeatCount
	}
	if !in.Source.Valid() {
		return 0, errors.Wrapf(domain.ErrInvalidSource, "%q", in.Source)
	}
	if err := in.Scope.Validate(); err != nil {
		return 0, err
	}
	return m.ttls.For(in.Type)
}

// CreateHold admits a hold iff its seats fit in the scope's bookable seats
// as observed under the scope lock. Nothing is written on refusal.
func (m *Manager) CreateHold(ctx context.Context, in CreateHoldInput) (hold domain.Hold, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "holds.CreateHold")
	span.SetAttributes(
		attribute.String("scope.key", in.Scope.Key().String()),
		attribute.Int("seat_count", in.SeatCount),
		attribute.String("hold_type", string(in.Type)),
	)
	defer func() {
		observability.HoldAdmissions.WithLabelValues(admissionResult(err)).Inc()
		observability.EndSpan(span, err)
	}()

	ttl, err := m.validate(in)
	if err != nil {
		return domain.Hold{}, err
	}

	owned := !m.store.InTx(ctx)
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		if err := m.store.LockScope(ctx, in.Scope); err != nil {
			return errors.Wrap(err, "lock inventory scope")
		}
		facts, st, err := m.calc.Snapshot(ctx, in.Scope, uuid.Nil)
		if err != nil {
			return err
		}
		if !facts.Bookable {
			return errors.Wrapf(domain.ErrDepartureNotBookable, "scope %s", in.Scope.Key())
		}
		if in.SeatCount > st.BookableSeats {
			return errors.Wrapf(domain.ErrInsufficientInventory, "requested %d, bookable %d", in.SeatCount, st.BookableSeats)
		}

		now := m.clock.Now()
		hold = domain.Hold{
			ID:               uuid.New(),
			Scope:            in.Scope,
			SeatCount:        in.SeatCount,
			Type:             in.Type,
			Source:           in.Source,
			ActorID:          in.ActorID,
			SessionID:        in.SessionID,
			CheckoutID:       in.CheckoutID,
			DepartureVersion: facts.Version,
			Status:           domain.HoldActive,
			ExpiresAt:        now.Add(ttl),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := m.store.InsertHold(ctx, hold); err != nil {
			return errors.Wrap(err, "insert hold")
		}
		return m.emit(ctx, hold, outbox.EventHoldCreated, now)
	})
	if err != nil {
		return domain.Hold{}, err
	}

	if owned {
		m.audit(ctx, outbox.EventHoldCreated, hold, nil)
	}
	return hold, nil
}

// ExtendHold resets the expiry of a live hold to now + TTL(newType) and
// switches its type. It returns false when the hold is missing, terminal or
// already past its expiry.
func (m *Manager) ExtendHold(ctx context.Context, id uuid.UUID, newType domain.HoldType) (extended bool, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "holds.ExtendHold")
	defer func() { observability.EndSpan(span, err) }()

	ttl, err := m.ttls.For(newType)
	if err != nil {
		return false, err
	}

	owned := !m.store.InTx(ctx)
	var hold domain.Hold
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		extended = false
		now := m.clock.Now()
		ok, err := m.store.ExtendHold(ctx, id, newType, now.Add(ttl), now)
		if err != nil || !ok {
			return err
		}
		extended = true
		hold, err = m.store.GetHold(ctx, id)
		if err != nil {
			return err
		}
		return m.emit(ctx, hold, outbox.EventHoldExtended, now)
	})
	if err != nil {
		return false, err
	}
	if extended && owned {
		m.audit(ctx, outbox.EventHoldExtended, hold, nil)
	}
	return extended, nil
}

// ReleaseHold terminates a hold with reason. Only the first release of a
// hold returns true; later calls return false without error. A CONFIRMED
// release also requires the hold to be unexpired.
func (m *Manager) ReleaseHold(ctx context.Context, id uuid.UUID, reason domain.ReleaseReason, actor string) (released bool, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "holds.ReleaseHold")
	span.SetAttributes(attribute.String("reason", string(reason)))
	defer func() { observability.EndSpan(span, err) }()

	status, err := reason.Status()
	if err != nil {
		return false, err
	}

	owned := !m.store.InTx(ctx)
	var hold domain.Hold
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		released = false
		now := m.clock.Now()
		ok, err := m.store.TerminateHold(ctx, id, status, reason, actor, now, reason == domain.ReasonConfirmed)
		if err != nil || !ok {
			return err
		}
		released = true
		hold, err = m.store.GetHold(ctx, id)
		if err != nil {
			return err
		}
		return m.emit(ctx, hold, outbox.EventHoldReleased, now)
	})
	if err != nil {
		return false, err
	}
	if released {
		observability.HoldsReleased.WithLabelValues(string(reason)).Inc()
		if owned {
			m.audit(ctx, outbox.EventHoldReleased, hold, map[string]any{"reason": string(reason)})
		}
	}
	return released, nil
}

// ActiveHolds lists the live holds of a departure with the whole minutes
// each has left.
func (m *Manager) ActiveHolds(ctx context.Context, departureID uuid.UUID) ([]domain.ActiveHold, error) {
	now := m.clock.Now()
	rows, err := m.store.ListActiveHolds(ctx, domain.SlotScope(departureID), now)
	if err != nil {
		return nil, errors.Wrap(err, "list active holds")
	}
	out := make([]domain.ActiveHold, 0, len(rows))
	for _, h := range rows {
		out = append(out, domain.ActiveHold{Hold: h, RemainingMinutes: domain.RemainingMinutes(h.ExpiresAt, now)})
	}
	return out, nil
}

func (m *Manager) GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	return m.store.GetHold(ctx, id)
}

type holdEvent struct {
	HoldID     uuid.UUID `json:"hold_id"`
	ScopeKey   uuid.UUID `json:"scope_key"`
	ScopeKind  string    `json:"scope_kind"`
	SeatCount  int       `json:"seat_count"`
	HoldType   string    `json:"hold_type"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	CheckoutID uuid.UUID `json:"checkout_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func newHoldEvent(h domain.Hold) holdEvent {
	return holdEvent{
		HoldID:     h.ID,
		ScopeKey:   h.Scope.Key(),
		ScopeKind:  string(h.Scope.Kind()),
		SeatCount:  h.SeatCount,
		HoldType:   string(h.Type),
		Status:     string(h.Status),
		Reason:     string(h.Reason),
		CheckoutID: h.CheckoutID,
		ExpiresAt:  h.ExpiresAt,
	}
}

func (m *Manager) emit(ctx context.Context, h domain.Hold, eventType string, now time.Time) error {
	rec, err := outbox.NewRecord("hold", h.ID, eventType, newHoldEvent(h), now)
	if err != nil {
		return err
	}
	return m.store.InsertOutbox(ctx, rec)
}

func (m *Manager) audit(ctx context.Context, action string, h domain.Hold, data map[string]any) {
	entry := domain.AuditEntry{
		Action:    action,
		HoldID:    h.ID,
		ScopeKey:  h.Scope.Key(),
		ActorID:   h.ActorID,
		SessionID: h.SessionID,
		Data:      data,
		At:        m.clock.Now(),
	}
	if err := m.auditor.Record(ctx, entry); err != nil {
		m.logger.WithField("hold_id", h.ID).WithError(err).Warn("audit write failed")
	}
}

func admissionResult(err error) string {
	if err == nil {
		return "ADMITTED"
	}
	return domain.CodeOf(err)
}
