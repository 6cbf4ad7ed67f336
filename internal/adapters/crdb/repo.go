// Package crdb is the CockroachDB store. Every method runs in the
// transaction carried by ctx when there is one, and on the pool otherwise.
package crdb

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	defaultMaxTxAttempts = 5
)

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool        *pgxpool.Pool
	maxAttempts uint
}

type Option func(*Repository)

// WithMaxTxAttempts bounds how often a transaction is rerun after a
// serialization failure.
func WithMaxTxAttempts(n uint) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, maxAttempts: defaultMaxTxAttempts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// WithTx runs fn in a SERIALIZABLE transaction, rerunning it with
// exponential backoff on serialization failures. A transaction already in
// ctx is joined and retries are left to its owner.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

// WithReadTx runs fn in a read-only transaction so multi-query reads see one
// snapshot.
func (r *Repository) WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly}, fn)
}

func (r *Repository) withTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.runTx(ctx, opts, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if isSerializationFailure(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(newTxBackOff()),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(error, time.Duration) { observability.DBTxRetries.Inc() }),
	)
	return classify(err)
}

func newTxBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

func (r *Repository) runTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (r *Repository) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// classify turns driver failures into the domain taxonomy. Business errors
// pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isSerializationFailure(err) {
		return errors.Mark(errors.Wrap(err, "transaction retries exhausted"), domain.ErrSerializationFailure)
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errors.Wrapf(err, "crdb %s", pgErr.Code)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.Transient(err)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode
}

func (r *Repository) ensureScope(ctx context.Context, scope domain.Scope) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO inventory_scopes (scope_key, kind) VALUES ($1, $2)
		ON CONFLICT (scope_key) DO NOTHING
	`, scope.Key(), string(scope.Kind()))
	return err
}

// LockScope takes the row lock that serializes admission for scope. It is
// held until the surrounding transaction ends.
func (r *Repository) LockScope(ctx context.Context, scope domain.Scope) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return errors.New("LockScope requires a transaction")
	}
	if err := r.ensureScope(ctx, scope); err != nil {
		return errors.Wrap(err, "ensure scope row")
	}
	var key uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT scope_key FROM inventory_scopes WHERE scope_key = $1 FOR UPDATE
	`, scope.Key()).Scan(&key)
	return errors.Wrap(err, "lock scope row")
}

func (r *Repository) SumActiveHolds(ctx context.Context, scope domain.Scope, now time.Time) (int, error) {
	var sum int
	var err error
	if scope.Kind() == domain.ScopeSlot {
		err = r.q(ctx).QueryRow(ctx, `
			SELECT COALESCE(SUM(seat_count), 0)::INT FROM holds
			WHERE scope_key = $1 AND status = 'ACTIVE' AND expires_at > $2
		`, scope.Key(), now).Scan(&sum)
	} else {
		err = r.q(ctx).QueryRow(ctx, `
			SELECT COALESCE(SUM(seat_count), 0)::INT FROM holds
			WHERE scope_key = $1 AND status = 'ACTIVE' AND expires_at > $2
			  AND range_start < $4 AND range_end > $3
		`, scope.Key(), now, scope.Start, scope.End).Scan(&sum)
	}
	return sum, err
}

func (r *Repository) SumConfirmedSeats(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (int, error) {
	var sum int
	var err error
	if scope.Kind() == domain.ScopeSlot {
		err = r.q(ctx).QueryRow(ctx, `
			SELECT COALESCE(SUM(seat_count), 0)::INT FROM bookings
			WHERE scope_key = $1 AND status = 'CONFIRMED' AND id <> $2
		`, scope.Key(), excludeBookingID).Scan(&sum)
	} else {
		err = r.q(ctx).QueryRow(ctx, `
			SELECT COALESCE(SUM(seat_count), 0)::INT FROM bookings
			WHERE scope_key = $1 AND status = 'CONFIRMED' AND id <> $2
			  AND range_start < $4 AND range_end > $3
		`, scope.Key(), excludeBookingID, scope.Start, scope.End).Scan(&sum)
	}
	return sum, err
}

// scopeColumns are the nullable columns a Scope is stored in.
type scopeColumns struct {
	DepartureID uuid.NullUUID
	ResourceID  uuid.NullUUID
	Start       *time.Time
	End         *time.Time
}

func toScopeColumns(s domain.Scope) scopeColumns {
	var c scopeColumns
	if s.DepartureID != uuid.Nil {
		c.DepartureID = uuid.NullUUID{UUID: s.DepartureID, Valid: true}
	}
	if s.ResourceID != uuid.Nil {
		c.ResourceID = uuid.NullUUID{UUID: s.ResourceID, Valid: true}
		start, end := s.Start, s.End
		c.Start, c.End = &start, &end
	}
	return c
}

func (c scopeColumns) scope() domain.Scope {
	if c.ResourceID.Valid && c.Start != nil && c.End != nil {
		return domain.RangeScope(c.ResourceID.UUID, *c.Start, *c.End)
	}
	return domain.SlotScope(c.DepartureID.UUID)
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
