package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/departure-inventory/internal/adapters/redis"
)

// ErrInFlight is returned by Begin while another request with the same key
// is still running.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Backend stores finished responses and in-flight markers.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status int
	Header map[string]string
	Result []byte
}

// Fingerprint identifies a request body so a reused key can be told apart
// from a genuine retry.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin returns the stored response for key when there is one. Otherwise it
// marks key in flight and returns nil; the caller must then call Finish.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if stored.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		return &Response{Status: stored.Status, Header: stored.Header, Result: stored.Result}, nil
	}
	ok, err := i.backend.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return nil, nil
}

// Finish stores resp under key, unless resp is nil, and clears the in-flight
// marker.
func (i *Idempotency) Finish(ctx context.Context, key, fingerprint string, resp *Response) error {
	var err error
	if resp != nil {
		err = i.backend.Set(ctx, key, redisadapter.IdempResponse{
			Status:      resp.Status,
			Header:      resp.Header,
			Result:      resp.Result,
			Fingerprint: fingerprint,
		}, i.ttl)
	}
	return errors.CombineErrors(err, i.backend.Unlock(ctx, key))
}
