// Package consumers contains Kafka consumers for background processing.
package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/repository"
	"github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/logger"
)

// checkoutEvent is the payment provider's checkout-success payload.
type checkoutEvent struct {
	ActorID    string `json:"actor_id"`
	ModuleName string `json:"module_name,omitempty"`
	Tier       string `json:"tier,omitempty"`
}

// CheckoutConsumer listens for checkout-success events, records the purchased
// module row and forces an entitlement refresh for the affected actor, so a
// purchase becomes visible before the next poll. Events layer on top of the
// poll rather than replacing it: a missed event only delays visibility until
// the next refresh interval.
type CheckoutConsumer struct {
	reader      *kafka.Reader
	store       repository.EntitlementStore
	entitlement service.EntitlementService
	clock       service.Clock
	logger      logger.Logger
}

// NewCheckoutConsumer creates a consumer in the service's shared group.
func NewCheckoutConsumer(
	cfg config.KafkaConfig,
	store repository.EntitlementStore,
	entitlement service.EntitlementService,
	clock service.Clock,
	log logger.Logger,
) *CheckoutConsumer {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "aegis-checkout-consumers"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.CheckoutTopic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})

	if clock == nil {
		clock = service.SystemClock{}
	}

	return &CheckoutConsumer{
		reader:      reader,
		store:       store,
		entitlement: entitlement,
		clock:       clock,
		logger:      log.WithComponent("checkout_consumer"),
	}
}

// Run consumes until the context is canceled. Blocking; run in a goroutine or
// under an errgroup.
func (c *CheckoutConsumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "checkout consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(ctx, "checkout consumer stopping")
				return c.reader.Close()
			}
			c.logger.Warn(ctx, "failed to read checkout event", logger.Error(err))
			continue
		}

		c.handle(ctx, msg.Value)
	}
}

// handle applies one checkout event: upsert the purchased module row, then
// force a refresh so the new row lands in the resolved view immediately.
func (c *CheckoutConsumer) handle(ctx context.Context, value []byte) {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn(ctx, "malformed checkout event discarded", logger.Error(err))
		return
	}
	if event.ActorID == "" {
		return
	}

	if event.ModuleName != "" {
		now := c.clock.Now()
		row := &models.ModuleEntitlement{
			ActorID:     event.ActorID,
			ModuleName:  event.ModuleName,
			Active:      true,
			ActivatedAt: &now,
		}
		if err := c.store.UpsertModuleRow(ctx, row); err != nil {
			// The billing system holds the durable record; the next refresh
			// picks the row up once the store recovers.
			c.logger.Warn(ctx, "failed to record purchased module row",
				logger.String("actor_id", event.ActorID),
				logger.String("module", event.ModuleName),
				logger.Error(err),
			)
		}
	}

	if err := c.entitlement.ForceRefresh(ctx, event.ActorID); err != nil {
		// The poll will converge; log and move on.
		c.logger.Warn(ctx, "forced refresh after checkout failed",
			logger.String("actor_id", event.ActorID),
			logger.Error(err),
		)
		return
	}

	c.logger.Info(ctx, "entitlements refreshed after checkout",
		logger.String("actor_id", event.ActorID),
		logger.String("module", event.ModuleName),
	)
}
