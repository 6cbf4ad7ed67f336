package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
)

const checkoutColumns = `id, departure_id, resource_id, range_start, range_end, seat_count, hold_id, state, guest,
	source, actor_id, session_id, amount::TEXT, payment_reference, COALESCE(idempotency_key, ''), failure_code,
	created_at, updated_at`

func scanCheckout(row pgx.Row) (domain.Checkout, error) {
	var (
		c      domain.Checkout
		sc     scopeColumns
		amount string
	)
	err := row.Scan(&c.ID, &sc.DepartureID, &sc.ResourceID, &sc.Start, &sc.End, &c.SeatCount, &c.HoldID, &c.State, &c.Guest,
		&c.Source, &c.ActorID, &c.SessionID, &amount, &c.PaymentReference, &c.IdempotencyKey, &c.FailureCode,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Checkout{}, err
	}
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Checkout{}, errors.Wrap(err, "decode amount")
	}
	c.Scope = sc.scope()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertCheckout reports ErrIdempotencyConflict when another checkout already
// carries the idempotency key.
func (r *Repository) InsertCheckout(ctx context.Context, c domain.Checkout) error {
	sc := toScopeColumns(c.Scope)
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO checkouts (id, scope_key, departure_id, resource_id, range_start, range_end, seat_count, hold_id,
			state, guest, source, actor_id, session_id, amount, payment_reference, idempotency_key, failure_code,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::DECIMAL, $15, $16, $17, $18, $19)
	`, c.ID, c.Scope.Key(), sc.DepartureID, sc.ResourceID, sc.Start, sc.End, c.SeatCount, c.HoldID,
		string(c.State), c.Guest, string(c.Source), c.ActorID, c.SessionID, c.Amount.String(), c.PaymentReference,
		nullString(c.IdempotencyKey), c.FailureCode, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrIdempotencyConflict, "checkout key %q", c.IdempotencyKey)
	}
	return err
}

func (r *Repository) GetCheckout(ctx context.Context, id uuid.UUID) (domain.Checkout, error) {
	c, err := scanCheckout(r.q(ctx).QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkout{}, domain.ErrCheckoutNotFound
	}
	return c, err
}

func (r *Repository) GetCheckoutForUpdate(ctx context.Context, id uuid.UUID) (domain.Checkout, error) {
	c, err := scanCheckout(r.q(ctx).QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkout{}, domain.ErrCheckoutNotFound
	}
	return c, err
}

func (r *Repository) FindCheckoutByIdempotencyKey(ctx context.Context, key string) (*domain.Checkout, error) {
	c, err := scanCheckout(r.q(ctx).QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) UpdateCheckout(ctx context.Context, c domain.Checkout) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE checkouts SET state = $2, guest = $3, payment_reference = $4, failure_code = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, string(c.State), c.Guest, c.PaymentReference, c.FailureCode, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCheckoutNotFound
	}
	return nil
}

// ExpireCheckouts moves open checkouts bound to holdIDs to EXPIRED.
func (r *Repository) ExpireCheckouts(ctx context.Context, holdIDs []uuid.UUID, now time.Time) (int, error) {
	if len(holdIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(holdIDs))
	for i, id := range holdIDs {
		ids[i] = id.String()
	}
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE checkouts SET state = 'EXPIRED', failure_code = 'HOLD_EXPIRED', updated_at = $2
		WHERE hold_id = ANY($1::UUID[]) AND state IN ('HOLD_CREATED', 'AWAITING_PAYMENT')
	`, ids, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
