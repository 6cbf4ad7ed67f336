package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type HoldType string

const (
	HoldCart           HoldType = "CART"
	HoldPaymentPending HoldType = "PAYMENT_PENDING"
)

type HoldSource string

const (
	SourceWeb     HoldSource = "WEB"
	SourceOTA     HoldSource = "OTA"
	SourceManual  HoldSource = "MANUAL"
	SourceSession HoldSource = "SESSION"
)

func (s HoldSource) Valid() bool {
	switch s {
	case SourceWeb, SourceOTA, SourceManual, SourceSession:
		return true
	}
	return false
}

type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldConfirmed HoldStatus = "CONFIRMED"
	HoldCancelled HoldStatus = "CANCELLED"
	HoldExpired   HoldStatus = "EXPIRED"
)

// ReleaseReason is recorded on a terminated hold for audit.
type ReleaseReason string

const (
	ReasonConfirmed ReleaseReason = "CONFIRMED"
	ReasonCancelled ReleaseReason = "CANCELLED"
	ReasonManual    ReleaseReason = "MANUAL"
	ReasonExpired   ReleaseReason = "EXPIRED"
)

// Status maps a caller-supplied release reason to the terminal status.
func (r ReleaseReason) Status() (HoldStatus, error) {
	switch r {
	case ReasonConfirmed:
		return HoldConfirmed, nil
	case ReasonCancelled, ReasonManual:
		return HoldCancelled, nil
	default:
		return "", ErrInvalidReason
	}
}

// Hold is a time-bound, revocable reservation of seats. Once Status leaves
// HoldActive the row is never modified again.
type Hold struct {
	ID               uuid.UUID
	Scope            Scope
	SeatCount        int
	Type             HoldType
	Source           HoldSource
	ActorID          string
	SessionID        string
	CheckoutID       uuid.UUID
	DepartureVersion int64
	Status           HoldStatus
	Reason           ReleaseReason
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TerminatedAt     *time.Time
	TerminatedBy     string
}

func (h Hold) Terminal() bool {
	return h.Status != HoldActive
}

// ActiveAt reports whether h still reserves seats at now. Expired holds that
// the sweeper has not reached yet are already inactive.
func (h Hold) ActiveAt(now time.Time) bool {
	return h.Status == HoldActive && h.ExpiresAt.After(now)
}

// ActiveHold is a hold annotated for display.
type ActiveHold struct {
	Hold
	RemainingMinutes int
}

// RemainingMinutes rounds the time left up to whole minutes, clamped at 0.
func RemainingMinutes(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}
