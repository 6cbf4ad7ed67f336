package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

const holdColumns = `id, departure_id, resource_id, range_start, range_end, seat_count, hold_type, source,
	actor_id, session_id, checkout_id, departure_version, status, reason, expires_at, created_at,
	updated_at, terminated_at, terminated_by`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var (
		h          domain.Hold
		sc         scopeColumns
		checkoutID uuid.NullUUID
	)
	err := row.Scan(&h.ID, &sc.DepartureID, &sc.ResourceID, &sc.Start, &sc.End, &h.SeatCount, &h.Type, &h.Source,
		&h.ActorID, &h.SessionID, &checkoutID, &h.DepartureVersion, &h.Status, &h.Reason, &h.ExpiresAt, &h.CreatedAt,
		&h.UpdatedAt, &h.TerminatedAt, &h.TerminatedBy)
	if err != nil {
		return domain.Hold{}, err
	}
	h.Scope = sc.scope()
	h.CheckoutID = checkoutID.UUID
	h.ExpiresAt = h.ExpiresAt.UTC()
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	h.TerminatedAt = utc(h.TerminatedAt)
	return h, nil
}

func collectHolds(rows pgx.Rows) ([]domain.Hold, error) {
	defer rows.Close()
	var out []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) InsertHold(ctx context.Context, h domain.Hold) error {
	if err := r.ensureScope(ctx, h.Scope); err != nil {
		return errors.Wrap(err, "ensure scope row")
	}
	sc := toScopeColumns(h.Scope)
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO holds (id, scope_key, departure_id, resource_id, range_start, range_end, seat_count, hold_type,
			source, actor_id, session_id, checkout_id, departure_version, status, reason, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, h.ID, h.Scope.Key(), sc.DepartureID, sc.ResourceID, sc.Start, sc.End, h.SeatCount, string(h.Type),
		string(h.Source), h.ActorID, h.SessionID, nullUUID(h.CheckoutID), h.DepartureVersion, string(h.Status),
		string(h.Reason), h.ExpiresAt, h.CreatedAt, h.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "hold %s exists", h.ID)
	}
	return err
}

func (r *Repository) GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	h, err := scanHold(r.q(ctx).QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, err
}

func (r *Repository) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	h, err := scanHold(r.q(ctx).QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, err
}

// ExtendHold moves a live hold to typ and expiresAt. It reports false when
// the hold is missing, terminal or past its expiry.
func (r *Repository) ExtendHold(ctx context.Context, id uuid.UUID, typ domain.HoldType, expiresAt, now time.Time) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE holds SET hold_type = $2, expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'ACTIVE' AND expires_at > $4
	`, id, string(typ), expiresAt, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TerminateHold is the conditional ACTIVE -> terminal update. Exactly one
// caller wins; the rest see false.
func (r *Repository) TerminateHold(ctx context.Context, id uuid.UUID, status domain.HoldStatus, reason domain.ReleaseReason, actor string, now time.Time, requireUnexpired bool) (bool, error) {
	sql := `
		UPDATE holds SET status = $2, reason = $3, terminated_by = $4, terminated_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'ACTIVE'`
	if requireUnexpired {
		sql += ` AND expires_at > $5`
	}
	tag, err := r.q(ctx).Exec(ctx, sql, id, string(status), string(reason), actor, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListActiveHolds(ctx context.Context, scope domain.Scope, now time.Time) ([]domain.Hold, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE scope_key = $1 AND status = 'ACTIVE' AND expires_at > $2
		ORDER BY expires_at, id
	`, scope.Key(), now)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

// ExpireHolds flips up to limit ACTIVE holds with expires_at <= now to
// EXPIRED and returns the rows it changed.
func (r *Repository) ExpireHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	rows, err := r.q(ctx).Query(ctx, `
		UPDATE holds SET status = 'EXPIRED', reason = 'EXPIRED', terminated_by = 'sweeper',
			terminated_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM holds WHERE status = 'ACTIVE' AND expires_at <= $1
			ORDER BY expires_at LIMIT $2
		) AND status = 'ACTIVE' AND expires_at <= $1
		RETURNING `+holdColumns, now, limit)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}
