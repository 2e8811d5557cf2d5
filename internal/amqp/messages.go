package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the ledger exchange. Consumers (reporting, sync)
// fetch the referenced rows themselves; messages carry ids only.
const (
	EventEntryCreated  = "entry.created"
	EventEntryUpdated  = "entry.updated"
	EventEntryDeleted  = "entry.deleted"
	EventPeriodRolled  = "period.rolled"
	EventEntriesPurged = "entries.purged"
)

// LedgerEvent is the wire form of a ledger lifecycle notification.
type LedgerEvent struct {
	Kind      string    `json:"kind"`
	EntryUUID uuid.UUID `json:"entry_uuid,omitempty"`
	BudgetID  int64     `json:"budget_id,omitempty"`
	PeriodID  int64     `json:"period_id,omitempty"`
	Count     int64     `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntryEvent builds an entry lifecycle event.
func NewEntryEvent(kind string, entryUUID uuid.UUID) *LedgerEvent {
	return &LedgerEvent{Kind: kind, EntryUUID: entryUUID, Timestamp: time.Now()}
}

// NewPeriodRolledEvent builds a budget-period rollover event.
func NewPeriodRolledEvent(budgetID, periodID int64) *LedgerEvent {
	return &LedgerEvent{Kind: EventPeriodRolled, BudgetID: budgetID, PeriodID: periodID, Timestamp: time.Now()}
}

// NewEntriesPurgedEvent builds a purge-sweep event.
func NewEntriesPurgedEvent(count int64) *LedgerEvent {
	return &LedgerEvent{Kind: EventEntriesPurged, Count: count, Timestamp: time.Now()}
}

// ToJSON converts the event to JSON bytes.
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
