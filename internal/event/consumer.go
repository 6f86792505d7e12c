// Package event turns product domain events into partial reindex requests.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/service"
	pkgkafka "github.com/utafrali/gally-search/pkg/kafka"
)

// Kafka topics of the product domain events consumed by the indexer.
const (
	TopicProductCreated = "ecommerce.product.created"
	TopicProductUpdated = "ecommerce.product.updated"
	TopicProductDeleted = "ecommerce.product.deleted"
)

// Topics lists every topic the consumer handles.
var Topics = []string{TopicProductCreated, TopicProductUpdated, TopicProductDeleted}

// ProductEventData is the part of a product event payload the indexer needs.
// Documents are always reloaded from the product source, so the rest of the
// payload is ignored.
type ProductEventData struct {
	ID string `json:"id"`
}

// Consumer schedules a partial reindex for every changed product.
type Consumer struct {
	reindex    *service.ReindexService
	entityType string
	logger     *slog.Logger
}

// NewConsumer creates a new product event consumer.
func NewConsumer(reindex *service.ReindexService, logger *slog.Logger) *Consumer {
	return &Consumer{
		reindex:    reindex,
		entityType: "product",
		logger:     logger,
	}
}

// Handle processes a Kafka event based on its type.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicProductCreated, TopicProductUpdated, TopicProductDeleted:
		return c.handleProductChanged(ctx, event)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleProductChanged reindexes one product. A deleted product is missing
// from the source, which removes it from the live indices.
func (c *Consumer) handleProductChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductEventData
	if err := event.DecodeData(&data); err != nil {
		return err
	}

	id := data.ID
	if id == "" {
		id = event.AggregateID
	}
	if id == "" {
		c.logger.WarnContext(ctx, "product event without id",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	req := &domain.ReindexRequest{
		EntityType: c.entityType,
		Context:    domain.ReindexContext{EntityIDs: []string{id}},
	}
	if err := c.reindex.Schedule(ctx, req); err != nil {
		return fmt.Errorf("schedule reindex from %s: %w", event.EventType, err)
	}

	c.logger.InfoContext(ctx, "scheduled product reindex from event",
		slog.String("event_type", event.EventType),
		slog.String("product_id", id),
	)
	return nil
}
