package payments_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/adapters/payments"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *httptest.Server) *payments.Client {
	t.Helper()
	c, err := payments.NewClient(srv.URL, time.Second,
		payments.WithHTTPClient(srv.Client()),
		payments.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	require.NoError(t, err)
	return c
}

func TestClient_CollectPayment(t *testing.T) {
	ref := uuid.New()

	t.Run("succeeded", func(t *testing.T) {
		var (
			path, key string
			body      map[string]string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path, key = r.URL.Path, r.Header.Get("Idempotency-Key")
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{"status":"SUCCEEDED","reference":"pay_1"}`))
		}))
		defer srv.Close()

		res, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.RequireFromString("150.50"))
		require.NoError(t, err)
		require.Equal(t, domain.PaymentResult{Success: true, Reference: "pay_1"}, res)
		require.Equal(t, "/v1/payments", path)
		require.Equal(t, ref.String(), key)
		require.Equal(t, "150.5", body["amount"])
		require.Equal(t, ref.String(), body["booking_ref"])
	})

	t.Run("declined is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"DECLINED"}`))
		}))
		defer srv.Close()

		res, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.NewFromInt(10))
		require.NoError(t, err)
		require.False(t, res.Success)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"status":"SUCCEEDED","reference":"pay_2"}`))
		}))
		defer srv.Close()

		res, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.NewFromInt(10))
		require.NoError(t, err)
		require.Equal(t, "pay_2", res.Reference)
		require.EqualValues(t, 3, calls.Load())
	})

	t.Run("exhausted retries are transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.NewFromInt(10))
		require.Error(t, err)
		require.Equal(t, domain.KindTransient, domain.KindOf(err))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad amount", http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.NewFromInt(-1))
		require.Error(t, err)
		require.Contains(t, err.Error(), "bad amount")
		require.NotEqual(t, domain.KindTransient, domain.KindOf(err))
		require.EqualValues(t, 1, calls.Load())
	})

	t.Run("refusal status is a decline", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "card blocked", http.StatusPaymentRequired)
		}))
		defer srv.Close()

		_, err := newClient(t, srv).CollectPayment(t.Context(), ref, decimal.NewFromInt(10))
		require.ErrorIs(t, err, domain.ErrPaymentDeclined)
		require.Equal(t, "PAYMENT_DECLINED", domain.CodeOf(err))
		require.EqualValues(t, 1, calls.Load())
	})
}

func TestClient_VoidOrRefund(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	require.NoError(t, c.VoidOrRefund(t.Context(), "pay_9"))
	require.Equal(t, "/v1/payments/pay_9/void", path)
	require.Error(t, c.VoidOrRefund(t.Context(), ""))
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := payments.NewClient("payments.local", time.Second)
	require.Error(t, err)
}
