package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
)

func (r *Repository) InsertBooking(ctx context.Context, b domain.Booking) error {
	sc := toScopeColumns(b.Scope)
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO bookings (id, checkout_id, hold_id, scope_key, departure_id, resource_id, range_start, range_end,
			seat_count, guest, total_amount, status, payment_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::DECIMAL, $12, $13, $14)
	`, b.ID, b.CheckoutID, nullUUID(b.HoldID), b.Scope.Key(), sc.DepartureID, sc.ResourceID, sc.Start, sc.End,
		b.SeatCount, b.Guest, b.TotalAmount.String(), string(b.Status), b.PaymentReference, b.CreatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "booking %s or payment %q already recorded", b.ID, b.PaymentReference)
	}
	return err
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var (
		b      domain.Booking
		sc     scopeColumns
		holdID uuid.NullUUID
		amount string
	)
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, checkout_id, hold_id, departure_id, resource_id, range_start, range_end, seat_count, guest,
			total_amount::TEXT, status, payment_reference, created_at
		FROM bookings WHERE id = $1
	`, id).Scan(&b.ID, &b.CheckoutID, &holdID, &sc.DepartureID, &sc.ResourceID, &sc.Start, &sc.End, &b.SeatCount,
		&b.Guest, &amount, &b.Status, &b.PaymentReference, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if b.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return domain.Booking{}, errors.Wrap(err, "decode total amount")
	}
	b.HoldID = holdID.UUID
	b.Scope = sc.scope()
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}
