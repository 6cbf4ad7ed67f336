package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one lifecycle transition kept for audit.
type AuditEntry struct {
	Action    string
	HoldID    uuid.UUID
	ScopeKey  uuid.UUID
	ActorID   string
	SessionID string
	Data      map[string]any
	At        time.Time
}
