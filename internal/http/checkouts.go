package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/booking"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = domain.SourceWeb
	}
	id := identityFrom(r.Context())
	c, err := h.checkouts.InitiateBooking(r.Context(), booking.InitiateInput{
		Scope:          scope,
		SeatCount:      req.SeatCount,
		Guest:          req.Guest,
		Source:         req.Source,
		ActorID:        id.ActorID,
		SessionID:      id.SessionID,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCheckoutResponse(c))
}

func (h *Handlers) GetCheckout(w http.ResponseWriter, r *http.Request) {
	h.checkoutAction(w, r, h.checkouts.GetCheckout)
}

func (h *Handlers) ProceedToPayment(w http.ResponseWriter, r *http.Request) {
	h.checkoutAction(w, r, h.checkouts.ProceedToPayment)
}

func (h *Handlers) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	actor := identityFrom(r.Context()).ActorID
	h.checkoutAction(w, r, func(ctx context.Context, ref uuid.UUID) (domain.Checkout, error) {
		return h.checkouts.CancelBooking(ctx, ref, actor)
	})
}

func (h *Handlers) AbandonCheckout(w http.ResponseWriter, r *http.Request) {
	actor := identityFrom(r.Context()).ActorID
	h.checkoutAction(w, r, func(ctx context.Context, ref uuid.UUID) (domain.Checkout, error) {
		return h.checkouts.Abandon(ctx, ref, actor)
	})
}

func (h *Handlers) checkoutAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ref uuid.UUID) (domain.Checkout, error)) {
	ref, err := uuidParam(r, "ref")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := fn(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(c))
}

// ConfirmCheckout converts the checkout into a booking. Without a payment
// reference the payment is collected here.
func (h *Handlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	ref, err := uuidParam(r, "ref")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req confirmRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.checkouts.ConfirmBooking(r.Context(), ref, booking.PaymentConfirmation{
		Reference: req.PaymentReference,
		Succeeded: req.Succeeded,
		ActorID:   identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		writeErrorDetail(w, r, err, res.RefundRequested)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, confirmResponse{Booking: newBookingResponse(res.Booking), Created: res.Created})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.checkouts.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}
