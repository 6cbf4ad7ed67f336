package holds

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/departure-inventory/internal/domain"
)

// TTLTable maps each hold type to its lifetime.
type TTLTable map[domain.HoldType]time.Duration

const (
	DefaultCartTTL           = 15 * time.Minute
	DefaultPaymentPendingTTL = 30 * time.Minute
)

func DefaultTTLs() TTLTable {
	return TTLTable{
		domain.HoldCart:           DefaultCartTTL,
		domain.HoldPaymentPending: DefaultPaymentPendingTTL,
	}
}

// For returns the TTL of typ, or ErrInvalidHoldType.
func (t TTLTable) For(typ domain.HoldType) (time.Duration, error) {
	ttl, ok := t[typ]
	if !ok || ttl <= 0 {
		return 0, errors.Wrapf(domain.ErrInvalidHoldType, "%q", typ)
	}
	return ttl, nil
}
