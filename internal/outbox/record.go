package outbox

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	StatusNew       = "NEW"
	StatusPublished = "PUBLISHED"
)

// Event types relayed to the broker. The type doubles as the routing key.
const (
	EventHoldCreated         = "hold.created"
	EventHoldExtended        = "hold.extended"
	EventHoldReleased        = "hold.released"
	EventHoldExpired         = "hold.expired"
	EventCheckoutCancelled   = "checkout.cancelled"
	EventCheckoutExpired     = "checkout.expired"
	EventCheckoutAbandoned   = "checkout.abandoned"
	EventBookingConfirmed    = "booking.confirmed"
	EventPaymentVoidRequired = "payment.void_requested"
)

// Record is one row of the transactional outbox. It is written in the same
// transaction as the state change it describes.
type Record struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string
	DedupeKey     string
}

// NewRecord JSON-encodes payload into a NEW record.
func NewRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload any, now time.Time) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, errors.Wrapf(err, "encode %s payload", eventType)
	}
	id := uuid.New()
	return Record{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     now,
		Status:        StatusNew,
		DedupeKey:     id.String(),
	}, nil
}
