package http

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
)

// scopeJSON addresses either a departure or a resource over [start, end).
type scopeJSON struct {
	DepartureID *uuid.UUID `json:"departure_id,omitempty"`
	ResourceID  *uuid.UUID `json:"resource_id,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

func (s scopeJSON) toDomain() (domain.Scope, error) {
	switch {
	case s.DepartureID != nil && s.ResourceID != nil:
		return domain.Scope{}, errors.Mark(errors.New("departure_id and resource_id are exclusive"), domain.ErrValidation)
	case s.DepartureID != nil:
		return domain.SlotScope(*s.DepartureID), nil
	case s.ResourceID != nil:
		if s.Start == nil || s.End == nil {
			return domain.Scope{}, errors.Wrap(domain.ErrInvalidRange, "start and end are required with resource_id")
		}
		return domain.RangeScope(*s.ResourceID, *s.Start, *s.End), nil
	default:
		return domain.Scope{}, errors.Mark(errors.New("departure_id or resource_id is required"), domain.ErrValidation)
	}
}

func newScopeJSON(s domain.Scope) scopeJSON {
	if s.Kind() == domain.ScopeSlot {
		id := s.DepartureID
		return scopeJSON{DepartureID: &id}
	}
	id, start, end := s.ResourceID, s.Start, s.End
	return scopeJSON{ResourceID: &id, Start: &start, End: &end}
}

type createHoldRequest struct {
	scopeJSON
	SeatCount int               `json:"seat_count"`
	HoldType  domain.HoldType   `json:"hold_type"`
	Source    domain.HoldSource `json:"source"`
}

type extendHoldRequest struct {
	HoldType domain.HoldType `json:"hold_type"`
}

type releaseHoldRequest struct {
	Reason domain.ReleaseReason `json:"reason"`
}

type holdResponse struct {
	ID uuid.UUID `json:"id"`
	scopeJSON
	SeatCount        int                  `json:"seat_count"`
	HoldType         domain.HoldType      `json:"hold_type"`
	Source           domain.HoldSource    `json:"source"`
	Status           domain.HoldStatus    `json:"status"`
	Reason           domain.ReleaseReason `json:"reason,omitempty"`
	CheckoutID       *uuid.UUID           `json:"checkout_id,omitempty"`
	DepartureVersion int64                `json:"departure_version,omitempty"`
	ExpiresAt        time.Time            `json:"expires_at"`
	CreatedAt        time.Time            `json:"created_at"`
	TerminatedAt     *time.Time           `json:"terminated_at,omitempty"`
	RemainingMinutes *int                 `json:"remaining_minutes,omitempty"`
}

func newHoldResponse(h domain.Hold) holdResponse {
	resp := holdResponse{
		ID:               h.ID,
		scopeJSON:        newScopeJSON(h.Scope),
		SeatCount:        h.SeatCount,
		HoldType:         h.Type,
		Source:           h.Source,
		Status:           h.Status,
		Reason:           h.Reason,
		DepartureVersion: h.DepartureVersion,
		ExpiresAt:        h.ExpiresAt,
		CreatedAt:        h.CreatedAt,
		TerminatedAt:     h.TerminatedAt,
	}
	if h.CheckoutID != uuid.Nil {
		id := h.CheckoutID
		resp.CheckoutID = &id
	}
	return resp
}

func newActiveHoldResponse(h domain.ActiveHold) holdResponse {
	resp := newHoldResponse(h.Hold)
	minutes := h.RemainingMinutes
	resp.RemainingMinutes = &minutes
	return resp
}

type stateResponse struct {
	SellableCapacity int `json:"sellable_capacity"`
	HeldSeats        int `json:"held_seats"`
	ConfirmedSeats   int `json:"confirmed_seats"`
	AvailableSeats   int `json:"available_seats"`
	BookableSeats    int `json:"bookable_seats"`
}

func newStateResponse(st domain.InventoryState) stateResponse {
	return stateResponse(st)
}

type availabilityResponse struct {
	scopeJSON
	Available bool `json:"available"`
}

type createCheckoutRequest struct {
	scopeJSON
	SeatCount int               `json:"seat_count"`
	Guest     domain.Guest      `json:"guest"`
	Source    domain.HoldSource `json:"source"`
}

type confirmRequest struct {
	PaymentReference string `json:"payment_reference"`
	Succeeded        bool   `json:"succeeded"`
}

type checkoutResponse struct {
	Reference uuid.UUID `json:"reference"`
	scopeJSON
	SeatCount        int                  `json:"seat_count"`
	HoldID           uuid.UUID            `json:"hold_id"`
	State            domain.CheckoutState `json:"state"`
	Guest            domain.Guest         `json:"guest"`
	Source           domain.HoldSource    `json:"source"`
	Amount           decimal.Decimal      `json:"amount"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	FailureCode      string               `json:"failure_code,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func newCheckoutResponse(c domain.Checkout) checkoutResponse {
	return checkoutResponse{
		Reference:        c.ID,
		scopeJSON:        newScopeJSON(c.Scope),
		SeatCount:        c.SeatCount,
		HoldID:           c.HoldID,
		State:            c.State,
		Guest:            c.Guest,
		Source:           c.Source,
		Amount:           c.Amount,
		PaymentReference: c.PaymentReference,
		FailureCode:      c.FailureCode,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type bookingResponse struct {
	ID         uuid.UUID  `json:"id"`
	CheckoutID uuid.UUID  `json:"checkout_id"`
	HoldID     *uuid.UUID `json:"hold_id,omitempty"`
	scopeJSON
	SeatCount        int                  `json:"seat_count"`
	Guest            domain.Guest         `json:"guest"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	Status           domain.BookingStatus `json:"status"`
	PaymentReference string               `json:"payment_reference"`
	CreatedAt        time.Time            `json:"created_at"`
}

func newBookingResponse(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:               b.ID,
		CheckoutID:       b.CheckoutID,
		scopeJSON:        newScopeJSON(b.Scope),
		SeatCount:        b.SeatCount,
		Guest:            b.Guest,
		TotalAmount:      b.TotalAmount,
		Status:           b.Status,
		PaymentReference: b.PaymentReference,
		CreatedAt:        b.CreatedAt,
	}
	if b.HoldID != uuid.Nil {
		id := b.HoldID
		resp.HoldID = &id
	}
	return resp
}

type confirmResponse struct {
	Booking bookingResponse `json:"booking"`
	Created bool            `json:"created"`
}

type auditResponse struct {
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RefundRequested bool   `json:"refund_requested,omitempty"`
}
