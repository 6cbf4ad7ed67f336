// Package payments is the HTTP client of the external payment service.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	statusSucceeded = "SUCCEEDED"
	statusDeclined  = "DECLINED"
)

type collectRequest struct {
	BookingRef uuid.UUID       `json:"booking_ref"`
	Amount     decimal.Decimal `json:"amount"`
}

type collectResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Client calls the payment service. Requests are retried on transport errors
// and 5xx responses; the booking reference is sent as Idempotency-Key so a
// retried collection charges at most once.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	backOff  func() backoff.BackOff
	maxTries uint
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(cl *Client) { cl.backOff = fn }
}

func WithMaxTries(n uint) Option {
	return func(cl *Client) { cl.maxTries = n }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse payments base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("payments base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: timeout},
		backOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		maxTries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CollectPayment charges amount for bookingRef. A declined charge is a
// result with Success=false, not an error; a refusal by status code (402,
// 422) is an error marked PAYMENT_DECLINED.
func (c *Client) CollectPayment(ctx context.Context, bookingRef uuid.UUID, amount decimal.Decimal) (domain.PaymentResult, error) {
	body, err := json.Marshal(collectRequest{BookingRef: bookingRef, Amount: amount})
	if err != nil {
		return domain.PaymentResult{}, errors.Wrap(err, "encode collect request")
	}

	var out collectResponse
	err = c.do(ctx, "/v1/payments", bookingRef.String(), body, &out)
	if err != nil {
		return domain.PaymentResult{}, errors.Wrapf(err, "collect payment for %s", bookingRef)
	}
	switch out.Status {
	case statusSucceeded:
		if out.Reference == "" {
			return domain.PaymentResult{}, errors.Newf("payment for %s succeeded without a reference", bookingRef)
		}
		return domain.PaymentResult{Success: true, Reference: out.Reference}, nil
	case statusDeclined:
		return domain.PaymentResult{Success: false, Reference: out.Reference}, nil
	default:
		return domain.PaymentResult{}, errors.Newf("unexpected payment status %q", out.Status)
	}
}

// VoidOrRefund reverses the payment identified by paymentRef.
func (c *Client) VoidOrRefund(ctx context.Context, paymentRef string) error {
	if paymentRef == "" {
		return errors.New("void requires a payment reference")
	}
	path := "/v1/payments/" + url.PathEscape(paymentRef) + "/void"
	if err := c.do(ctx, path, "void:"+paymentRef, nil, nil); err != nil {
		return errors.Wrapf(err, "void payment %s", paymentRef)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path, idempotencyKey string, body []byte, out any) error {
	target := c.baseURL.JoinPath(path).String()

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, domain.Transient(errors.Wrap(err, "payments request"))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			_, _ = io.Copy(io.Discard, resp.Body)
			return struct{}{}, domain.Transient(errors.Newf("payments returned %s", resp.Status))
		case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, backoff.Permanent(errors.Wrapf(domain.ErrPaymentDeclined, "payments returned %s: %s", resp.Status, bytes.TrimSpace(msg)))
		case resp.StatusCode >= http.StatusBadRequest:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, backoff.Permanent(errors.Newf("payments returned %s: %s", resp.Status, bytes.TrimSpace(msg)))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return struct{}{}, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(errors.Wrap(err, "decode response"))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}
