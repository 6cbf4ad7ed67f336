package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/departure-inventory/internal/adapters/mongo"
	"github.com/robertarktes/departure-inventory/internal/booking"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/holds"
	"github.com/robertarktes/departure-inventory/internal/observability"
)

type HoldService interface {
	CreateHold(ctx context.Context, in holds.CreateHoldInput) (domain.Hold, error)
	ExtendHold(ctx context.Context, id uuid.UUID, newType domain.HoldType) (bool, error)
	ReleaseHold(ctx context.Context, id uuid.UUID, reason domain.ReleaseReason, actor string) (bool, error)
	ActiveHolds(ctx context.Context, departureID uuid.UUID) ([]domain.ActiveHold, error)
	GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error)
}

type CheckoutService interface {
	InitiateBooking(ctx context.Context, in booking.InitiateInput) (domain.Checkout, error)
	ProceedToPayment(ctx context.Context, ref uuid.UUID) (domain.Checkout, error)
	ConfirmBooking(ctx context.Context, ref uuid.UUID, pc booking.PaymentConfirmation) (booking.ConfirmResult, error)
	CancelBooking(ctx context.Context, ref uuid.UUID, actor string) (domain.Checkout, error)
	Abandon(ctx context.Context, ref uuid.UUID, actor string) (domain.Checkout, error)
	GetCheckout(ctx context.Context, ref uuid.UUID) (domain.Checkout, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

type AvailabilityService interface {
	CheckAvailability(ctx context.Context, scope domain.Scope, excludeBookingID uuid.UUID) (bool, error)
	State(ctx context.Context, scope domain.Scope) (domain.InventoryState, error)
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type AuditHistory interface {
	History(ctx context.Context, holdID uuid.UUID) ([]mongoadapter.AuditLog, error)
}

// Deps wires the engine into the handlers. Audit and Ready are optional.
type Deps struct {
	Holds        HoldService
	Checkouts    CheckoutService
	Availability AvailabilityService
	Sweeper      Sweeper
	Audit        AuditHistory
	Ready        map[string]func(ctx context.Context) error
}

type Handlers struct {
	holds     HoldService
	checkouts CheckoutService
	avail     AvailabilityService
	sweeper   Sweeper
	audit     AuditHistory
	ready     map[string]func(ctx context.Context) error
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		holds:     d.Holds,
		checkouts: d.Checkouts,
		avail:     d.Availability,
		sweeper:   d.Sweeper,
		audit:     d.Audit,
		ready:     d.Ready,
	}
}

func (h *Handlers) DepartureAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.availability(w, r, domain.SlotScope(id))
}

func (h *Handlers) ResourceAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseDay(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDay(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.availability(w, r, domain.RangeScope(id, start, end))
}

func (h *Handlers) availability(w http.ResponseWriter, r *http.Request, scope domain.Scope) {
	if err := scope.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.avail.CheckAvailability(r.Context(), scope, uuid.Nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{scopeJSON: newScopeJSON(scope), Available: ok})
}

// parseDay accepts RFC 3339 timestamps and plain dates.
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.Wrap(domain.ErrInvalidRange, "start and end are required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(domain.ErrInvalidRange, "cannot parse %q", v)
	}
	return t, nil
}

func (h *Handlers) DepartureState(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.avail.State(r.Context(), domain.SlotScope(id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

func (h *Handlers) DepartureHolds(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := h.holds.ActiveHolds(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]holdResponse, 0, len(active))
	for _, a := range active {
		out = append(out, newActiveHoldResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": out})
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.HoldType == "" {
		req.HoldType = domain.HoldCart
	}
	if req.Source == "" {
		req.Source = domain.SourceWeb
	}
	id := identityFrom(r.Context())
	hold, err := h.holds.CreateHold(r.Context(), holds.CreateHoldInput{
		Scope:     scope,
		SeatCount: req.SeatCount,
		Type:      req.HoldType,
		Source:    req.Source,
		ActorID:   id.ActorID,
		SessionID: id.SessionID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newHoldResponse(hold))
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	hold, err := h.holds.GetHold(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHoldResponse(hold))
}

func (h *Handlers) ExtendHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := extendHoldRequest{HoldType: domain.HoldPaymentPending}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.holds.ExtendHold(r.Context(), id, req.HoldType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"extended": ok})
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := releaseHoldRequest{Reason: domain.ReasonManual}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// Conversions go through the checkout confirm endpoint.
	if req.Reason != domain.ReasonManual && req.Reason != domain.ReasonCancelled {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidReason, "reason %q", req.Reason))
		return
	}
	ok, err := h.holds.ReleaseHold(r.Context(), id, req.Reason, identityFrom(r.Context()).ActorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": ok})
}

func (h *Handlers) HoldAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	logs, err := h.audit.History(r.Context(), id)
	if err != nil {
		writeError(w, r, domain.Transient(err))
		return
	}
	out := make([]auditResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, auditResponse{
			Action:    l.Action,
			ActorID:   l.ActorID,
			SessionID: l.SessionID,
			At:        l.Timestamp,
			Data:      l.Data,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"hold_id": id, "entries": out})
}

func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.SweepExpired(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Readyz pings every dependency and reports each result.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.ready))
	for name, ping := range h.ready {
		if err := ping(ctx); err != nil {
			loggerFrom(r.Context()).WithField("dependency", name).WithError(err).Warn("readiness check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

func loggerOr(l observability.Logger) observability.Logger {
	if l == nil {
		return observability.NewDiscardLogger()
	}
	return l
}
