package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking is the durable record written when a hold converts. HoldID may be
// uuid.Nil once the hold has been archived.
type Booking struct {
	ID               uuid.UUID
	CheckoutID       uuid.UUID
	HoldID           uuid.UUID
	Scope            Scope
	SeatCount        int
	Guest            Guest
	TotalAmount      decimal.Decimal
	Status           BookingStatus
	PaymentReference string
	CreatedAt        time.Time
}

// InventoryState is derived from the hold and booking ledger on every read.
type InventoryState struct {
	SellableCapacity int
	HeldSeats        int
	ConfirmedSeats   int
	AvailableSeats   int
	BookableSeats    int
}

func NewInventoryState(sellable, held, confirmed int) InventoryState {
	available := sellable - held - confirmed
	return InventoryState{
		SellableCapacity: sellable,
		HeldSeats:        held,
		ConfirmedSeats:   confirmed,
		AvailableSeats:   available,
		BookableSeats:    max(0, available),
	}
}

// PaymentResult is what the payment collaborator reports for a collection
// attempt. Reference identifies the captured payment for later voids.
type PaymentResult struct {
	Success   bool
	Reference string
}
