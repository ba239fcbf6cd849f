package events

import (
	"context"
	"sync"
	"time"

	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventBenefitChanged is emitted after a committed change to an ambassador's benefit
	EventBenefitChanged EventType = "benefit.changed"
	// EventSettlementProcessed is emitted after a settlement is paid out
	EventSettlementProcessed EventType = "settlement.processed"
	// EventRestoreCompleted is emitted after a snapshot restore commits
	EventRestoreCompleted EventType = "restore.completed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// BenefitChangedData contains data for benefit changed events.
type BenefitChangedData struct {
	Previous models.AmbassadorBenefit
	Current  models.AmbassadorBenefit
	LeadID   int64
}

// SettlementProcessedData contains data for settlement processed events.
type SettlementProcessedData struct {
	Settlement models.Settlement
}

// RestoreCompletedData contains data for restore completed events.
type RestoreCompletedData struct {
	SnapshotID string
	Rows       int
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. Handlers run
// asynchronously after the publishing transaction has committed; their
// failures are logged and never reach the publisher.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	inflight sync.WaitGroup
	log      *logger.Logger
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      log.WithField("component", "events"),
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return
	}
	handlers := m.handlers[eventType]
	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// the request may finish before the handlers do
	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.inflight.Add(1)
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(hctx, event); err != nil {
				m.log.WithContext(hctx).WithError(err).
					WithField("event", string(event.Type)).
					Warn("event handler failed")
			}
		}(handler)
	}
}

// PublishBenefitChanged publishes a benefit changed event.
func (m *Manager) PublishBenefitChanged(ctx context.Context, leadID int64, prev, cur models.AmbassadorBenefit) {
	m.Publish(ctx, EventBenefitChanged, BenefitChangedData{
		Previous: prev,
		Current:  cur,
		LeadID:   leadID,
	})
}

// PublishSettlementProcessed publishes a settlement processed event.
func (m *Manager) PublishSettlementProcessed(ctx context.Context, s models.Settlement) {
	m.Publish(ctx, EventSettlementProcessed, SettlementProcessedData{Settlement: s})
}

// PublishRestoreCompleted publishes a restore completed event.
func (m *Manager) PublishRestoreCompleted(ctx context.Context, snapshotID string, rows int) {
	m.Publish(ctx, EventRestoreCompleted, RestoreCompletedData{SnapshotID: snapshotID, Rows: rows})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
