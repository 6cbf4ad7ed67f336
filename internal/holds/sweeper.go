package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/outbox"
)

const sweepLeaseKey = "inventory:sweep:lease"

// SweepStore is the persistence the Sweeper needs.
type SweepStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// ExpireHolds flips up to limit ACTIVE holds past their expiry to
	// EXPIRED and returns the rows it changed.
	ExpireHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
	ExpireCheckouts(ctx context.Context, holdIDs []uuid.UUID, now time.Time) (int, error)
	InsertOutbox(ctx context.Context, rec outbox.Record) error
}

// Lease keeps concurrent sweepers from doing the same work twice. Safety
// never depends on it: every expiry is a conditional update.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Sweeper struct {
	store    SweepStore
	clock    clock.Clock
	batch    int
	lease    Lease
	leaseTTL time.Duration
	auditor  Auditor
	logger   observability.Logger
}

type SweeperOption func(*Sweeper)

func WithLease(l Lease, ttl time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.lease = l
		s.leaseTTL = ttl
	}
}

func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweepAuditor(a Auditor) SweeperOption {
	return func(s *Sweeper) {
		if a != nil {
			s.auditor = a
		}
	}
}

func WithSweepLogger(l observability.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSweeper(store SweepStore, clk clock.Clock, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		clock:    clk,
		batch:    500,
		leaseTTL: 30 * time.Second,
		auditor:  nopAuditor{},
		logger:   observability.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// SweepExpired marks every ACTIVE hold past its expiry as EXPIRED, in
// batches, and returns how many it changed. Holds released concurrently are
// skipped, so running it twice is harmless.
func (s *Sweeper) SweepExpired(ctx context.Context) (total int, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "holds.SweepExpired")
	start := time.Now()
	defer func() {
		observability.SweepDuration.Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)
	}()

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, sweepLeaseKey, s.leaseTTL)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("sweep lease unavailable, sweeping without it")
		case !ok:
			s.logger.Debug("sweep lease held elsewhere")
			return 0, nil
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), sweepLeaseKey); err != nil {
					s.logger.WithError(err).Warn("release sweep lease")
				}
			}()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		expired, err := s.sweepBatch(ctx)
		total += len(expired)
		if err != nil {
			return total, err
		}
		observability.HoldsExpired.Add(float64(len(expired)))
		s.audit(ctx, expired)
		if len(expired) < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.WithField("expired", total).Info("expired holds swept")
	}
	return total, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context) ([]domain.Hold, error) {
	var expired []domain.Hold
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		expired = nil
		now := s.clock.Now()
		rows, err := s.store.ExpireHolds(ctx, now, s.batch)
		if err != nil {
			return errors.Wrap(err, "expire holds")
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, h := range rows {
			ids = append(ids, h.ID)
			rec, err := outbox.NewRecord("hold", h.ID, outbox.EventHoldExpired, newHoldEvent(h), now)
			if err != nil {
				return err
			}
			if err := s.store.InsertOutbox(ctx, rec); err != nil {
				return err
			}
		}
		if _, err := s.store.ExpireCheckouts(ctx, ids, now); err != nil {
			return errors.Wrap(err, "expire checkouts")
		}
		expired = rows
		return nil
	})
	return expired, err
}

func (s *Sweeper) audit(ctx context.Context, expired []domain.Hold) {
	if len(expired) == 0 {
		return
	}
	entries := make([]domain.AuditEntry, 0, len(expired))
	for _, h := range expired {
		entries = append(entries, domain.AuditEntry{
			Action:    outbox.EventHoldExpired,
			HoldID:    h.ID,
			ScopeKey:  h.Scope.Key(),
			ActorID:   h.ActorID,
			SessionID: h.SessionID,
			At:        h.UpdatedAt,
		})
	}
	if err := s.auditor.Record(ctx, entries...); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
}
