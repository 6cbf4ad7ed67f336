package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps the error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	if errors.Is(err, domain.ErrPaymentDeclined) {
		return http.StatusUnprocessableEntity
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientInventory, domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotBookable:
		return http.StatusUnprocessableEntity
	case domain.KindHoldExpired:
		return http.StatusGone
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorDetail(w, r, err, false)
}

func writeErrorDetail(w http.ResponseWriter, r *http.Request, err error, refundRequested bool) {
	status := statusOf(err)
	detail := errorDetail{Code: domain.CodeOf(err), Message: err.Error(), RefundRequested: refundRequested}
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		detail.Message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrValidation)
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrValidation)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrapf(err, "invalid %s", name), domain.ErrValidation)
	}
	return id, nil
}
