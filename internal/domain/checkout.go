package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutState is the booking workflow state machine.
//
//	INITIATED -> HOLD_CREATED -> AWAITING_PAYMENT -> CONFIRMED
//
// ABANDONED, CANCELLED and EXPIRED are reachable from any state but CONFIRMED.
type CheckoutState string

const (
	CheckoutInitiated       CheckoutState = "INITIATED"
	CheckoutHoldCreated     CheckoutState = "HOLD_CREATED"
	CheckoutAwaitingPayment CheckoutState = "AWAITING_PAYMENT"
	CheckoutConfirmed       CheckoutState = "CONFIRMED"
	CheckoutAbandoned       CheckoutState = "ABANDONED"
	CheckoutCancelled       CheckoutState = "CANCELLED"
	CheckoutExpired         CheckoutState = "EXPIRED"
)

func (s CheckoutState) Terminal() bool {
	switch s {
	case CheckoutConfirmed, CheckoutAbandoned, CheckoutCancelled, CheckoutExpired:
		return true
	}
	return false
}

// Checkout is the pending booking reference handed to callers between
// InitiateBooking and ConfirmBooking. Its ID becomes the booking ID.
type Checkout struct {
	ID               uuid.UUID
	Scope            Scope
	SeatCount        int
	HoldID           uuid.UUID
	State            CheckoutState
	Guest            Guest
	Source           HoldSource
	ActorID          string
	SessionID        string
	Amount           decimal.Decimal
	PaymentReference string
	IdempotencyKey   string
	FailureCode      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
