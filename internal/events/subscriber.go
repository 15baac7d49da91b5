package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event subjects
const (
	SubjectMerchantSyncOK     = "merchant.sync.completed"
	SubjectMerchantSyncFailed = "merchant.sync.failed"

	// Catalog events - subscribe to product changes for auto-enqueue
	SubjectProductCreated = "product.created"
	SubjectProductUpdated = "product.updated"
)

// ProductChangedEvent represents a product create or update from the catalog
// service. Either change re-enqueues the entity for remote sync.
type ProductChangedEvent struct {
	ProductID int64     `json:"product_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	BasePrice float64   `json:"base_price"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncCompletedEvent represents a fully successful sync run
type SyncCompletedEvent struct {
	RunID     string    `json:"run_id"`
	Synced    int       `json:"synced"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncFailedEvent represents a sync run with failures
type SyncFailedEvent struct {
	RunID     string    `json:"run_id"`
	Requeued  int       `json:"requeued"`
	Dropped   int       `json:"dropped"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler defines the interface for handling catalog events
type EventHandler interface {
	HandleProductChanged(event *ProductChangedEvent) error
}

// Subscriber handles NATS event subscriptions
type Subscriber struct {
	nc      *nats.Conn
	logger  *zap.Logger
	handler EventHandler
	subs    []*nats.Subscription
}

// NewSubscriber creates a new NATS subscriber
func NewSubscriber(nc *nats.Conn, handler EventHandler, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		nc:      nc,
		logger:  logger,
		handler: handler,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start subscribes to catalog product changes
func (s *Subscriber) Start() error {
	for _, subject := range []string{SubjectProductCreated, SubjectProductUpdated} {
		sub, err := s.nc.Subscribe(subject, s.handleProductChanged)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("Subscribed to event", zap.String("subject", subject))
	}

	s.logger.Info("NATS subscriber started with all subscriptions")
	return nil
}

// Stop unsubscribes from all events
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.logger.Info("NATS subscriber stopped")
}

// handleProductChanged processes product created/updated events
func (s *Subscriber) handleProductChanged(msg *nats.Msg) {
	var event ProductChangedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("Failed to unmarshal product changed event", zap.Error(err))
		return
	}

	s.logger.Info("Received product changed event",
		zap.Int64("product_id", event.ProductID),
		zap.String("sku", event.SKU),
	)

	if err := s.handler.HandleProductChanged(&event); err != nil {
		s.logger.Error("Failed to handle product changed event",
			zap.Int64("product_id", event.ProductID),
			zap.Error(err),
		)
	}
}

// Publisher handles publishing events to NATS
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher creates a new NATS publisher
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	return &Publisher{nc: nc, logger: logger}
}

// PublishSyncCompleted publishes a sync completed event
func (p *Publisher) PublishSyncCompleted(runID string, synced int) error {
	event := SyncCompletedEvent{RunID: runID, Synced: synced, Timestamp: time.Now()}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectMerchantSyncOK, data)
}

// PublishSyncFailed publishes a sync failed event
func (p *Publisher) PublishSyncFailed(runID string, requeued, dropped int, reason string) error {
	event := SyncFailedEvent{
		RunID:     runID,
		Requeued:  requeued,
		Dropped:   dropped,
		Error:     reason,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectMerchantSyncFailed, data)
}
