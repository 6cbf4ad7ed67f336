// Package booking drives a checkout from hold to confirmed booking or to
// one of the terminal off-ramps. It owns checkout and booking rows; holds
// are only touched through the hold manager.
package booking

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/clock"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/holds"
	"github.com/robertarktes/departure-inventory/internal/inventory"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/outbox"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "booking"

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error)
	InsertCheckout(ctx context.Context, c domain.Checkout) error
	GetCheckout(ctx context.Context, id uuid.UUID) (domain.Checkout, error)
	GetCheckoutForUpdate(ctx context.Context, id uuid.UUID) (domain.Checkout, error)
	// FindCheckoutByIdempotencyKey returns nil when no checkout carries key.
	FindCheckoutByIdempotencyKey(ctx context.Context, key string) (*domain.Checkout, error)
	UpdateCheckout(ctx context.Context, c domain.Checkout) error
	InsertBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	InsertOutbox(ctx context.Context, rec outbox.Record) error
}

// HoldManager is the subset of holds.Manager the workflow drives.
type HoldManager interface {
	CreateHold(ctx context.Context, in holds.CreateHoldInput) (domain.Hold, error)
	ExtendHold(ctx context.Context, id uuid.UUID, newType domain.HoldType) (bool, error)
	ReleaseHold(ctx context.Context, id uuid.UUID, reason domain.ReleaseReason, actor string) (bool, error)
}

// Payments is the external payment collaborator.
type Payments interface {
	CollectPayment(ctx context.Context, bookingRef uuid.UUID, amount decimal.Decimal) (domain.PaymentResult, error)
	VoidOrRefund(ctx context.Context, paymentRef string) error
}

type Orchestrator struct {
	store    Store
	holds    HoldManager
	catalog  inventory.Catalog
	payments Payments
	clock    clock.Clock
	auditor  holds.Auditor
	logger   observability.Logger
}

type Option func(*Orchestrator)

func WithAuditor(a holds.Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

func WithLogger(l observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(store Store, hm HoldManager, catalog inventory.Catalog, payments Payments, clk clock.Clock, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		holds:    hm,
		catalog:  catalog,
		payments: payments,
		clock:    clk,
		logger:   observability.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type InitiateInput struct {
	Scope          domain.Scope
	SeatCount      int
	Guest          domain.Guest
	Source         domain.HoldSource
	ActorID        string
	SessionID      string
	IdempotencyKey string
}

// InitiateBooking places a CART hold and opens a checkout bound to it in one
// transaction. A refused hold leaves no rows behind. Retrying with the same
// idempotency key returns the checkout created by the first call.
func (o *Orchestrator) InitiateBooking(ctx context.Context, in InitiateInput) (c domain.Checkout, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "booking.InitiateBooking")
	defer func() { o.finish(span, "initiate", err) }()

	if in.IdempotencyKey != "" {
		if prior, err := o.replayInitiate(ctx, in); prior != nil || err != nil {
			return derefCheckout(prior), err
		}
	}
	if in.SeatCount < 1 {
		return domain.Checkout{}, domain.ErrInvalidSeatCount
	}
	amount, err := o.price(ctx, in.Scope, in.SeatCount)
	if err != nil {
		return domain.Checkout{}, err
	}

	id := uuid.New()
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		hold, err := o.holds.CreateHold(ctx, holds.CreateHoldInput{
			Scope:      in.Scope,
			SeatCount:  in.SeatCount,
			Type:       domain.HoldCart,
			Source:     in.Source,
			ActorID:    in.ActorID,
			SessionID:  in.SessionID,
			CheckoutID: id,
		})
		if err != nil {
			return err
		}
		now := o.clock.Now()
		c = domain.Checkout{
			ID:             id,
			Scope:          in.Scope,
			SeatCount:      in.SeatCount,
			HoldID:         hold.ID,
			State:          domain.CheckoutHoldCreated,
			Guest:          in.Guest,
			Source:         in.Source,
			ActorID:        in.ActorID,
			SessionID:      in.SessionID,
			Amount:         amount,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return o.store.InsertCheckout(ctx, c)
	})
	if errors.Is(err, domain.ErrIdempotencyConflict) && in.IdempotencyKey != "" {
		prior, rerr := o.replayInitiate(ctx, in)
		if rerr != nil || prior == nil {
			return domain.Checkout{}, err
		}
		return *prior, nil
	}
	if err != nil {
		return domain.Checkout{}, err
	}

	o.audit(ctx, "checkout.initiated", c, nil)
	return c, nil
}

func (o *Orchestrator) replayInitiate(ctx context.Context, in InitiateInput) (*domain.Checkout, error) {
	prior, err := o.store.FindCheckoutByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if !prior.Scope.Equal(in.Scope) || prior.SeatCount != in.SeatCount {
		return nil, errors.Wrapf(domain.ErrIdempotencyConflict, "key %q was used for another request", in.IdempotencyKey)
	}
	return prior, nil
}

// ProceedToPayment upgrades the checkout's hold to PAYMENT_PENDING. A
// checkout already awaiting payment with a live hold is returned unchanged.
func (o *Orchestrator) ProceedToPayment(ctx context.Context, ref uuid.UUID) (c domain.Checkout, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "booking.ProceedToPayment")
	span.SetAttributes(attribute.String("checkout.id", ref.String()))
	defer func() { o.finish(span, "proceed_to_payment", err) }()

	var lost error
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		lost = nil
		c, err = o.store.GetCheckoutForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		switch c.State {
		case domain.CheckoutConfirmed:
			return domain.ErrBookingConfirmed
		case domain.CheckoutExpired:
			return domain.ErrHoldExpired
		case domain.CheckoutAwaitingPayment:
			hold, err := o.store.GetHold(ctx, c.HoldID)
			if err != nil {
				return err
			}
			if hold.ActiveAt(o.clock.Now()) {
				return nil
			}
			c, lost, err = o.closeForLostHold(ctx, c, hold)
			return err
		case domain.CheckoutHoldCreated:
		default:
			return errors.Wrapf(domain.ErrCheckoutClosed, "checkout is %s", c.State)
		}

		ok, err := o.holds.ExtendHold(ctx, c.HoldID, domain.HoldPaymentPending)
		if err != nil {
			return err
		}
		if !ok {
			hold, err := o.store.GetHold(ctx, c.HoldID)
			if err != nil {
				return err
			}
			c, lost, err = o.closeForLostHold(ctx, c, hold)
			return err
		}
		c.State = domain.CheckoutAwaitingPayment
		c.UpdatedAt = o.clock.Now()
		return o.store.UpdateCheckout(ctx, c)
	})
	if err != nil {
		return domain.Checkout{}, err
	}
	if lost != nil {
		return c, lost
	}
	return c, nil
}

// PaymentConfirmation carries a payment the caller already collected, for
// example from a provider webhook. An empty Reference makes ConfirmBooking
// collect the payment itself.
type PaymentConfirmation struct {
	Reference string
	Succeeded bool
	ActorID   string
}

type ConfirmResult struct {
	Booking domain.Booking
	// Created is false when a duplicate confirmation replayed a prior booking.
	Created bool
	// RefundRequested is set when a successful payment has to be voided
	// because the inventory it paid for was lost.
	RefundRequested bool
}

type confirmOutcome int

const (
	outcomeBooked confirmOutcome = iota
	outcomeAlreadyConfirmed
	outcomeLost
)

// ConfirmBooking converts the checkout's hold into a booking. Payment success
// never overrides inventory: when the hold has expired the confirmation fails
// with HOLD_EXPIRED, no booking is written and the payment is voided.
func (o *Orchestrator) ConfirmBooking(ctx context.Context, ref uuid.UUID, pc PaymentConfirmation) (res ConfirmResult, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "booking.ConfirmBooking")
	span.SetAttributes(attribute.String("checkout.id", ref.String()))
	defer func() { o.finish(span, "confirm", err) }()

	c, err := o.store.GetCheckout(ctx, ref)
	if err != nil {
		return ConfirmResult{}, err
	}
	switch {
	case c.State == domain.CheckoutConfirmed:
		return o.replayConfirm(ctx, c, pc)
	case c.State.Terminal():
		return o.rejectPayment(ctx, c, pc.paidReference(), stateError(c))
	}

	paymentRef := pc.Reference
	if paymentRef == "" {
		cur, err := o.ensureHoldLive(ctx, ref)
		if err != nil {
			return ConfirmResult{}, err
		}
		if cur.State == domain.CheckoutConfirmed {
			return o.replayConfirm(ctx, cur, pc)
		}
		pr, err := o.payments.CollectPayment(ctx, c.ID, c.Amount)
		switch {
		case errors.Is(err, domain.ErrPaymentDeclined):
			return ConfirmResult{}, o.recordDecline(ctx, c.ID)
		case err != nil:
			return ConfirmResult{}, errors.Wrap(err, "collect payment")
		}
		if !pr.Success {
			return ConfirmResult{}, o.recordDecline(ctx, c.ID)
		}
		paymentRef = pr.Reference
	} else if !pc.Succeeded {
		return ConfirmResult{}, o.recordDecline(ctx, c.ID)
	}

	actor := pc.ActorID
	if actor == "" {
		actor = c.ActorID
	}

	var (
		outcome confirmOutcome
		booking domain.Booking
		lost    error
	)
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		outcome, lost = outcomeBooked, nil
		cur, err := o.store.GetCheckoutForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if cur.State == domain.CheckoutConfirmed {
			outcome = outcomeAlreadyConfirmed
			c = cur
			return nil
		}
		if cur.State.Terminal() {
			outcome, c, lost = outcomeLost, cur, stateError(cur)
			return nil
		}

		hold, err := o.store.GetHold(ctx, cur.HoldID)
		if err != nil {
			return err
		}
		if cur.SeatCount > hold.SeatCount {
			return errors.Wrapf(domain.ErrSeatCountExceedsHold, "booking %d seats, hold %d", cur.SeatCount, hold.SeatCount)
		}
		released, err := o.holds.ReleaseHold(ctx, hold.ID, domain.ReasonConfirmed, actor)
		if err != nil {
			return err
		}
		if !released {
			hold, err = o.store.GetHold(ctx, cur.HoldID)
			if err != nil {
				return err
			}
			outcome = outcomeLost
			c, lost, err = o.closeForLostHold(ctx, cur, hold)
			return err
		}

		now := o.clock.Now()
		booking = domain.Booking{
			ID:               cur.ID,
			CheckoutID:       cur.ID,
			HoldID:           hold.ID,
			Scope:            cur.Scope,
			SeatCount:        cur.SeatCount,
			Guest:            cur.Guest,
			TotalAmount:      cur.Amount,
			Status:           domain.BookingConfirmed,
			PaymentReference: paymentRef,
			CreatedAt:        now,
		}
		if err := o.store.InsertBooking(ctx, booking); err != nil {
			return errors.Wrap(err, "insert booking")
		}
		cur.State = domain.CheckoutConfirmed
		cur.PaymentReference = paymentRef
		cur.FailureCode = ""
		cur.UpdatedAt = now
		if err := o.store.UpdateCheckout(ctx, cur); err != nil {
			return err
		}
		c = cur
		return o.emit(ctx, "booking", booking.ID, outbox.EventBookingConfirmed, bookingEvent{
			BookingID:        booking.ID,
			HoldID:           booking.HoldID,
			ScopeKey:         booking.Scope.Key(),
			SeatCount:        booking.SeatCount,
			TotalAmount:      booking.TotalAmount,
			PaymentReference: booking.PaymentReference,
		}, now)
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	switch outcome {
	case outcomeAlreadyConfirmed:
		return o.replayConfirm(ctx, c, PaymentConfirmation{Reference: paymentRef, Succeeded: true})
	case outcomeLost:
		return o.rejectPayment(ctx, c, paymentRef, lost)
	}
	o.audit(ctx, outbox.EventBookingConfirmed, c, map[string]any{"payment_reference": paymentRef})
	return ConfirmResult{Booking: booking, Created: true}, nil
}

// ensureHoldLive fails fast, before any money moves, when the checkout can
// no longer be confirmed. The check inside the confirm transaction remains
// the authoritative one.
func (o *Orchestrator) ensureHoldLive(ctx context.Context, ref uuid.UUID) (c domain.Checkout, err error) {
	var lost error
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		lost = nil
		c, err = o.store.GetCheckoutForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if c.State == domain.CheckoutConfirmed {
			return nil
		}
		if c.State.Terminal() {
			lost = stateError(c)
			return nil
		}
		hold, err := o.store.GetHold(ctx, c.HoldID)
		if err != nil {
			return err
		}
		if hold.ActiveAt(o.clock.Now()) {
			return nil
		}
		c, lost, err = o.closeForLostHold(ctx, c, hold)
		return err
	})
	if err != nil {
		return c, err
	}
	return c, lost
}

func (pc PaymentConfirmation) paidReference() string {
	if pc.Succeeded {
		return pc.Reference
	}
	return ""
}

// replayConfirm answers a confirmation for an already confirmed checkout. The
// same payment gets the prior booking back; any other payment is a conflict
// and is voided.
func (o *Orchestrator) replayConfirm(ctx context.Context, c domain.Checkout, pc PaymentConfirmation) (ConfirmResult, error) {
	b, err := o.store.GetBooking(ctx, c.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if pc.Reference == "" || pc.Reference == b.PaymentReference {
		return ConfirmResult{Booking: b, Created: false}, nil
	}
	res, err := o.rejectPayment(ctx, c, pc.paidReference(),
		errors.Wrapf(domain.ErrBookingConfirmed, "checkout %s was confirmed with another payment", c.ID))
	res.Booking = b
	return res, err
}

// rejectPayment fails a confirmation and voids paymentRef, if any.
func (o *Orchestrator) rejectPayment(ctx context.Context, c domain.Checkout, paymentRef string, cause error) (ConfirmResult, error) {
	if paymentRef == "" {
		return ConfirmResult{}, cause
	}
	o.requestVoid(ctx, c, paymentRef, domain.CodeOf(cause))
	return ConfirmResult{RefundRequested: true}, cause
}

// requestVoid asks the payment collaborator to void paymentRef. When that
// fails the obligation is parked in the outbox so it is not lost.
func (o *Orchestrator) requestVoid(ctx context.Context, c domain.Checkout, paymentRef, cause string) {
	log := o.logger.WithField("checkout_id", c.ID).WithField("payment_reference", paymentRef)
	ctx = context.WithoutCancel(ctx)

	err := o.payments.VoidOrRefund(ctx, paymentRef)
	if err == nil {
		observability.PaymentVoids.WithLabelValues("voided").Inc()
		log.Info("payment voided after lost inventory")
		return
	}
	log.WithError(err).Warn("void failed, parking obligation in outbox")

	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		return o.emit(ctx, "checkout", c.ID, outbox.EventPaymentVoidRequired, voidEvent{
			CheckoutID:       c.ID,
			PaymentReference: paymentRef,
			Amount:           c.Amount,
			Cause:            cause,
		}, o.clock.Now())
	})
	if err != nil {
		observability.PaymentVoids.WithLabelValues("failed").Inc()
		log.WithError(err).Error("could not record void obligation")
		return
	}
	observability.PaymentVoids.WithLabelValues("deferred").Inc()
}

func (o *Orchestrator) recordDecline(ctx context.Context, ref uuid.UUID) error {
	err := o.store.WithTx(ctx, func(ctx context.Context) error {
		c, err := o.store.GetCheckoutForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if c.State.Terminal() {
			return nil
		}
		c.FailureCode = domain.CodeOf(domain.ErrPaymentDeclined)
		c.UpdatedAt = o.clock.Now()
		return o.store.UpdateCheckout(ctx, c)
	})
	if err != nil {
		o.logger.WithField("checkout_id", ref).WithError(err).Warn("record payment decline")
	}
	return domain.ErrPaymentDeclined
}

// CancelBooking releases the hold of an unconfirmed checkout and closes it
// as CANCELLED. Confirmed bookings are refused; undoing them is a
// compensating action owned by booking management.
func (o *Orchestrator) CancelBooking(ctx context.Context, ref uuid.UUID, actor string) (domain.Checkout, error) {
	return o.close(ctx, ref, actor, domain.CheckoutCancelled, outbox.EventCheckoutCancelled)
}

// Abandon is CancelBooking for a customer who walked away.
func (o *Orchestrator) Abandon(ctx context.Context, ref uuid.UUID, actor string) (domain.Checkout, error) {
	return o.close(ctx, ref, actor, domain.CheckoutAbandoned, outbox.EventCheckoutAbandoned)
}

func (o *Orchestrator) close(ctx context.Context, ref uuid.UUID, actor string, target domain.CheckoutState, event string) (c domain.Checkout, err error) {
	op := "cancel"
	if target == domain.CheckoutAbandoned {
		op = "abandon"
	}
	ctx, span := observability.StartSpan(ctx, tracerName, "booking."+op)
	span.SetAttributes(attribute.String("checkout.id", ref.String()))
	defer func() { o.finish(span, op, err) }()

	changed := false
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		changed = false
		c, err = o.store.GetCheckoutForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if c.State == domain.CheckoutConfirmed {
			return errors.Wrapf(domain.ErrBookingConfirmed, "checkout %s", ref)
		}
		if c.State.Terminal() {
			return nil
		}
		if _, err := o.holds.ReleaseHold(ctx, c.HoldID, domain.ReasonCancelled, actor); err != nil {
			return err
		}
		now := o.clock.Now()
		c.State = target
		c.UpdatedAt = now
		if err := o.store.UpdateCheckout(ctx, c); err != nil {
			return err
		}
		changed = true
		return o.emit(ctx, "checkout", c.ID, event, checkoutEvent{CheckoutID: c.ID, HoldID: c.HoldID, State: string(c.State)}, now)
	})
	if err != nil {
		return domain.Checkout{}, err
	}
	if changed {
		o.audit(ctx, event, c, map[string]any{"actor": actor})
	}
	return c, nil
}

func (o *Orchestrator) GetCheckout(ctx context.Context, ref uuid.UUID) (domain.Checkout, error) {
	return o.store.GetCheckout(ctx, ref)
}

func (o *Orchestrator) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return o.store.GetBooking(ctx, id)
}

// closeForLostHold moves c to the terminal state matching what happened to
// its hold and returns the error the caller should see.
func (o *Orchestrator) closeForLostHold(ctx context.Context, c domain.Checkout, hold domain.Hold) (_ domain.Checkout, lost, err error) {
	now := o.clock.Now()
	event := outbox.EventCheckoutExpired
	lost = errors.Wrapf(domain.ErrHoldExpired, "hold %s expired at %s", hold.ID, hold.ExpiresAt.Format(time.RFC3339))
	c.State = domain.CheckoutExpired
	if hold.Status == domain.HoldCancelled {
		event = outbox.EventCheckoutCancelled
		lost = errors.Wrapf(domain.ErrCheckoutClosed, "hold %s was released", hold.ID)
		c.State = domain.CheckoutCancelled
	}
	c.FailureCode = domain.CodeOf(lost)
	c.UpdatedAt = now
	if err = o.store.UpdateCheckout(ctx, c); err != nil {
		return c, nil, err
	}
	err = o.emit(ctx, "checkout", c.ID, event, checkoutEvent{CheckoutID: c.ID, HoldID: c.HoldID, State: string(c.State)}, now)
	return c, lost, err
}

func stateError(c domain.Checkout) error {
	if c.State == domain.CheckoutExpired {
		return errors.Wrapf(domain.ErrHoldExpired, "checkout %s expired", c.ID)
	}
	return errors.Wrapf(domain.ErrCheckoutClosed, "checkout %s is %s", c.ID, c.State)
}

// price is the unit price times seats, and times nights for range scopes.
func (o *Orchestrator) price(ctx context.Context, scope domain.Scope, seats int) (decimal.Decimal, error) {
	if err := scope.Validate(); err != nil {
		return decimal.Zero, err
	}
	qty := decimal.NewFromInt(int64(seats))
	if scope.Kind() == domain.ScopeSlot {
		dep, err := o.catalog.GetDeparture(ctx, scope.DepartureID)
		if err != nil {
			return decimal.Zero, err
		}
		return dep.UnitPrice.Mul(qty), nil
	}
	res, err := o.catalog.GetResource(ctx, scope.ResourceID)
	if err != nil {
		return decimal.Zero, err
	}
	nights := int64(math.Ceil(scope.End.Sub(scope.Start).Hours() / 24))
	return res.UnitPrice.Mul(qty).Mul(decimal.NewFromInt(max(1, nights))), nil
}

type checkoutEvent struct {
	CheckoutID uuid.UUID `json:"checkout_id"`
	HoldID     uuid.UUID `json:"hold_id"`
	State      string    `json:"state"`
}

type bookingEvent struct {
	BookingID        uuid.UUID       `json:"booking_id"`
	HoldID           uuid.UUID       `json:"hold_id"`
	ScopeKey         uuid.UUID       `json:"scope_key"`
	SeatCount        int             `json:"seat_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentReference string          `json:"payment_reference"`
}

type voidEvent struct {
	CheckoutID       uuid.UUID       `json:"checkout_id"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Cause            string          `json:"cause"`
}

func (o *Orchestrator) emit(ctx context.Context, aggregate string, id uuid.UUID, event string, payload any, now time.Time) error {
	rec, err := outbox.NewRecord(aggregate, id, event, payload, now)
	if err != nil {
		return err
	}
	return o.store.InsertOutbox(ctx, rec)
}

func (o *Orchestrator) audit(ctx context.Context, action string, c domain.Checkout, data map[string]any) {
	if o.auditor == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["checkout_id"] = c.ID.String()
	data["state"] = string(c.State)
	err := o.auditor.Record(ctx, domain.AuditEntry{
		Action:    action,
		HoldID:    c.HoldID,
		ScopeKey:  c.Scope.Key(),
		ActorID:   c.ActorID,
		SessionID: c.SessionID,
		Data:      data,
		At:        o.clock.Now(),
	})
	if err != nil {
		o.logger.WithField("checkout_id", c.ID).WithError(err).Warn("audit write failed")
	}
}

func (o *Orchestrator) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = domain.CodeOf(err)
	}
	observability.CheckoutTransitions.WithLabelValues(op, result).Inc()
	observability.EndSpan(span, err)
}

func derefCheckout(c *domain.Checkout) domain.Checkout {
	if c == nil {
		return domain.Checkout{}
	}
	return *c
}
