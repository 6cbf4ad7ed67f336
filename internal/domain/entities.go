package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepartureStatus string

const (
	DepartureScheduled DepartureStatus = "SCHEDULED"
	DepartureConfirmed DepartureStatus = "CONFIRMED"
	DepartureCancelled DepartureStatus = "CANCELLED"
	DepartureCompleted DepartureStatus = "COMPLETED"
)

// Departure is one dated occurrence of a bookable resource. It is owned by
// the catalog; the engine only reads it.
type Departure struct {
	ID                   uuid.UUID
	ResourceID           uuid.UUID
	StartsAt             time.Time
	TotalCapacity        int
	BlockedSeats         int
	OverbookingAllowance int
	Status               DepartureStatus
	Version              int64
	UnitPrice            decimal.Decimal
}

// SellableCapacity is total capacity minus blocked seats plus the
// overbooking allowance, never negative.
func (d Departure) SellableCapacity() int {
	return max(0, d.TotalCapacity-d.BlockedSeats+d.OverbookingAllowance)
}

// Bookable reports whether new holds may be admitted against d.
func (d Departure) Bookable() bool {
	return d.Status == DepartureScheduled || d.Status == DepartureConfirmed
}

// Resource is a continuously bookable unit pool (rooms, vehicles) sold by
// date range instead of by departure.
type Resource struct {
	ID        uuid.UUID
	Name      string
	Capacity  int
	Active    bool
	UnitPrice decimal.Decimal
}

// Guest carries the contact details collected during checkout.
type Guest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}
