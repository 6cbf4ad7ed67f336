package domain

import (
	"time"

	"github.com/google/uuid"
)

type ScopeKind string

const (
	ScopeSlot  ScopeKind = "SLOT"
	ScopeRange ScopeKind = "RANGE"
)

// Scope identifies the inventory a hold draws from: either a scheduled
// departure or a resource over the half-open range [Start, End).
type Scope struct {
	DepartureID uuid.UUID
	ResourceID  uuid.UUID
	Start       time.Time
	End         time.Time
}

func SlotScope(departureID uuid.UUID) Scope {
	return Scope{DepartureID: departureID}
}

func RangeScope(resourceID uuid.UUID, start, end time.Time) Scope {
	return Scope{ResourceID: resourceID, Start: start.UTC(), End: end.UTC()}
}

func (s Scope) Kind() ScopeKind {
	if s.DepartureID != uuid.Nil {
		return ScopeSlot
	}
	return ScopeRange
}

// Key is the id of the serialization point guarding admission for s.
func (s Scope) Key() uuid.UUID {
	if s.DepartureID != uuid.Nil {
		return s.DepartureID
	}
	return s.ResourceID
}

func (s Scope) Validate() error {
	if s.DepartureID == uuid.Nil && s.ResourceID == uuid.Nil {
		return ErrValidation
	}
	if s.Kind() == ScopeRange && !s.Start.Before(s.End) {
		return ErrInvalidRange
	}
	return nil
}

// Equal reports whether s and o name the same inventory, range included.
func (s Scope) Equal(o Scope) bool {
	return s.DepartureID == o.DepartureID && s.ResourceID == o.ResourceID &&
		s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

// Overlaps reports whether the range of s intersects [start, end).
func (s Scope) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End.After(start)
}
