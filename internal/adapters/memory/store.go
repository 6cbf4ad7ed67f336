// Package memory is an in-process store used by tests and by the API when
// STORE_DRIVER=memory. It mirrors the locking contract of the CockroachDB
// adapter: a transaction holds the lock of every scope it touches until it
// commits or rolls back, and writes are undone on rollback.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/outbox"
)

type txKey struct{}

type memTx struct {
	held map[uuid.UUID]*sync.Mutex
	undo []func()
}

type Store struct {
	mu     sync.RWMutex
	scopes map[uuid.UUID]*sync.Mutex

	holds        map[uuid.UUID]domain.Hold
	checkouts    map[uuid.UUID]domain.Checkout
	checkoutKeys map[string]uuid.UUID
	bookings     map[uuid.UUID]domain.Booking
	paymentRefs  map[string]uuid.UUID
	outbox       []outbox.Record
}

func NewStore() *Store {
	return &Store{
		scopes:       make(map[uuid.UUID]*sync.Mutex),
		holds:        make(map[uuid.UUID]domain.Hold),
		checkouts:    make(map[uuid.UUID]domain.Checkout),
		checkoutKeys: make(map[string]uuid.UUID),
		bookings:     make(map[uuid.UUID]domain.Booking),
		paymentRefs:  make(map[string]uuid.UUID),
	}
}

// WithTx runs fn in a transaction. A transaction already present in ctx is
// joined.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}
	tx := &memTx{held: make(map[uuid.UUID]*sync.Mutex)}
	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	for _, m := range tx.held {
		m.Unlock()
	}
	return err
}

// InTx reports whether ctx carries a transaction.
func (s *Store) InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*memTx)
	return ok
}

// WithReadTx runs fn without taking scope locks. Reads may observe writes of
// transactions that have not committed yet.
func (s *Store) WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// run executes fn in the caller's transaction, or in a short one of its own.
func (s *Store) run(ctx context.Context, fn func(tx *memTx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(tx)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*memTx))
	})
}

func (s *Store) lock(tx *memTx, key uuid.UUID) {
	if _, ok := tx.held[key]; ok {
		return
	}
	s.mu.Lock()
	m, ok := s.scopes[key]
	if !ok {
		m = &sync.Mutex{}
		s.scopes[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	tx.held[key] = m
}

func (s *Store) LockScope(ctx context.Context, scope domain.Scope) error {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	if !ok {
		return errors.New("LockScope requires a transaction")
	}
	s.lock(tx, scope.Key())
	return nil
}

func (s *Store) SumActiveHolds(_ context.Context, scope domain.Scope, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, h := range s.holds {
		if !sameScope(h.Scope, scope) || !h.ActiveAt(now) {
			continue
		}
		total += h.SeatCount
	}
	return total, nil
}

func (s *Store) SumConfirmedSeats(_ context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, b := range s.bookings {
		if b.Status != domain.BookingConfirmed || !sameScope(b.Scope, scope) {
			continue
		}
		if excludeBookingID != uuid.Nil && b.ID == excludeBookingID {
			continue
		}
		total += b.SeatCount
	}
	return total, nil
}

// sameScope matches a stored row against a query scope. Range rows match
// when they overlap the queried range.
func sameScope(row, query domain.Scope) bool {
	if query.Kind() == domain.ScopeSlot {
		return row.DepartureID == query.DepartureID
	}
	return row.DepartureID == uuid.Nil && row.ResourceID == query.ResourceID && row.Overlaps(query.Start, query.End)
}

func (s *Store) InsertHold(ctx context.Context, hold domain.Hold) error {
	return s.run(ctx, func(tx *memTx) error {
		s.lock(tx, hold.Scope.Key())
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.holds[hold.ID]; ok {
			return errors.Newf("hold %s already exists", hold.ID)
		}
		s.holds[hold.ID] = hold
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			delete(s.holds, hold.ID)
			s.mu.Unlock()
		})
		return nil
	})
}

func (s *Store) GetHold(_ context.Context, id uuid.UUID) (domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[id]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (s *Store) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	var out domain.Hold
	err := s.run(ctx, func(tx *memTx) error {
		h, err := s.GetHold(ctx, id)
		if err != nil {
			return err
		}
		s.lock(tx, h.Scope.Key())
		out, err = s.GetHold(ctx, id)
		return err
	})
	return out, err
}

// updateHold applies fn to the hold under its scope lock. fn reports whether
// it changed anything.
func (s *Store) updateHold(ctx context.Context, id uuid.UUID, fn func(h *domain.Hold) bool) (bool, error) {
	var changed bool
	err := s.run(ctx, func(tx *memTx) error {
		s.mu.RLock()
		h, ok := s.holds[id]
		s.mu.RUnlock()
		if !ok {
			return nil
		}
		s.lock(tx, h.Scope.Key())

		s.mu.Lock()
		defer s.mu.Unlock()
		prev := s.holds[id]
		next := prev
		if !fn(&next) {
			return nil
		}
		s.holds[id] = next
		changed = true
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			s.holds[id] = prev
			s.mu.Unlock()
		})
		return nil
	})
	return changed, err
}

func (s *Store) ExtendHold(ctx context.Context, id uuid.UUID, typ domain.HoldType, expiresAt, now time.Time) (bool, error) {
	return s.updateHold(ctx, id, func(h *domain.Hold) bool {
		if !h.ActiveAt(now) {
			return false
		}
		h.Type = typ
		h.ExpiresAt = expiresAt
		h.UpdatedAt = now
		return true
	})
}

func (s *Store) TerminateHold(ctx context.Context, id uuid.UUID, status domain.HoldStatus, reason domain.ReleaseReason, actor string, now time.Time, requireUnexpired bool) (bool, error) {
	return s.updateHold(ctx, id, func(h *domain.Hold) bool {
		if h.Status != domain.HoldActive {
			return false
		}
		if requireUnexpired && !h.ExpiresAt.After(now) {
			return false
		}
		at := now
		h.Status = status
		h.Reason = reason
		h.TerminatedAt = &at
		h.TerminatedBy = actor
		h.UpdatedAt = now
		return true
	})
}

func (s *Store) ListActiveHolds(_ context.Context, scope domain.Scope, now time.Time) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Hold
	for _, h := range s.holds {
		if sameScope(h.Scope, scope) && h.ActiveAt(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// ExpireHolds flips up to limit ACTIVE holds with expires_at <= now to
// EXPIRED and returns them. Scope locks are taken in key order.
func (s *Store) ExpireHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	s.mu.RLock()
	var candidates []domain.Hold
	for _, h := range s.holds {
		if h.Status == domain.HoldActive && !h.ExpiresAt.After(now) {
			candidates = append(candidates, h)
		}
	}
	s.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool {
		ki, kj := candidates[i].Scope.Key(), candidates[j].Scope.Key()
		if ki != kj {
			return ki.String() < kj.String()
		}
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var expired []domain.Hold
	err := s.run(ctx, func(tx *memTx) error {
		for _, c := range candidates {
			ok, err := s.TerminateHold(withTx(ctx, tx), c.ID, domain.HoldExpired, domain.ReasonExpired, "sweeper", now, false)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			h, _ := s.GetHold(ctx, c.ID)
			expired = append(expired, h)
		}
		return nil
	})
	return expired, err
}

func withTx(ctx context.Context, tx *memTx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func (s *Store) InsertCheckout(ctx context.Context, c domain.Checkout) error {
	return s.run(ctx, func(tx *memTx) error {
		s.lock(tx, c.Scope.Key())
		s.mu.Lock()
		defer s.mu.Unlock()
		if c.IdempotencyKey != "" {
			if _, ok := s.checkoutKeys[c.IdempotencyKey]; ok {
				return domain.ErrIdempotencyConflict
			}
			s.checkoutKeys[c.IdempotencyKey] = c.ID
		}
		s.checkouts[c.ID] = c
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			delete(s.checkouts, c.ID)
			if c.IdempotencyKey != "" {
				delete(s.checkoutKeys, c.IdempotencyKey)
			}
			s.mu.Unlock()
		})
		return nil
	})
}

func (s *Store) GetCheckout(_ context.Context, id uuid.UUID) (domain.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkouts[id]
	if !ok {
		return domain.Checkout{}, domain.ErrCheckoutNotFound
	}
	return c, nil
}

func (s *Store) GetCheckoutForUpdate(ctx context.Context, id uuid.UUID) (domain.Checkout, error) {
	var out domain.Checkout
	err := s.run(ctx, func(tx *memTx) error {
		c, err := s.GetCheckout(ctx, id)
		if err != nil {
			return err
		}
		s.lock(tx, c.Scope.Key())
		out, err = s.GetCheckout(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) FindCheckoutByIdempotencyKey(_ context.Context, key string) (*domain.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.checkoutKeys[key]
	if !ok {
		return nil, nil
	}
	c := s.checkouts[id]
	return &c, nil
}

func (s *Store) UpdateCheckout(ctx context.Context, c domain.Checkout) error {
	return s.run(ctx, func(tx *memTx) error {
		s.lock(tx, c.Scope.Key())
		s.mu.Lock()
		defer s.mu.Unlock()
		prev, ok := s.checkouts[c.ID]
		if !ok {
			return domain.ErrCheckoutNotFound
		}
		s.checkouts[c.ID] = c
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			s.checkouts[c.ID] = prev
			s.mu.Unlock()
		})
		return nil
	})
}

// ExpireCheckouts moves open checkouts bound to holdIDs to EXPIRED.
func (s *Store) ExpireCheckouts(ctx context.Context, holdIDs []uuid.UUID, now time.Time) (int, error) {
	want := make(map[uuid.UUID]bool, len(holdIDs))
	for _, id := range holdIDs {
		want[id] = true
	}
	s.mu.RLock()
	var targets []domain.Checkout
	for _, c := range s.checkouts {
		if want[c.HoldID] && (c.State == domain.CheckoutHoldCreated || c.State == domain.CheckoutAwaitingPayment) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Scope.Key().String() < targets[j].Scope.Key().String() })

	n := 0
	err := s.run(ctx, func(tx *memTx) error {
		for _, t := range targets {
			c, err := s.GetCheckoutForUpdate(withTx(ctx, tx), t.ID)
			if err != nil {
				return err
			}
			if c.State.Terminal() {
				continue
			}
			c.State = domain.CheckoutExpired
			c.FailureCode = "HOLD_EXPIRED"
			c.UpdatedAt = now
			if err := s.UpdateCheckout(withTx(ctx, tx), c); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	return s.run(ctx, func(tx *memTx) error {
		s.lock(tx, b.Scope.Key())
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.bookings[b.ID]; ok {
			return errors.Wrapf(domain.ErrConflict, "booking %s already exists", b.ID)
		}
		if b.PaymentReference != "" {
			if _, ok := s.paymentRefs[b.PaymentReference]; ok {
				return errors.Wrapf(domain.ErrConflict, "payment %s already used", b.PaymentReference)
			}
			s.paymentRefs[b.PaymentReference] = b.ID
		}
		s.bookings[b.ID] = b
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			delete(s.bookings, b.ID)
			if b.PaymentReference != "" {
				delete(s.paymentRefs, b.PaymentReference)
			}
			s.mu.Unlock()
		})
		return nil
	})
}

func (s *Store) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (s *Store) InsertOutbox(ctx context.Context, rec outbox.Record) error {
	return s.run(ctx, func(tx *memTx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.outbox = append(s.outbox, rec)
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i := range s.outbox {
				if s.outbox[i].ID == rec.ID {
					s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
					return
				}
			}
		})
		return nil
	})
}

func (s *Store) GetUnpublishedOutbox(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbox.Record
	for _, rec := range s.outbox {
		if rec.Status != outbox.StatusNew {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			at := publishedAt
			s.outbox[i].Status = outbox.StatusPublished
			s.outbox[i].PublishedAt = &at
			return nil
		}
	}
	return errors.Newf("outbox record %s not found", id)
}

// Outbox returns a copy of every outbox record, oldest first.
func (s *Store) Outbox() []outbox.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Record(nil), s.outbox...)
}
