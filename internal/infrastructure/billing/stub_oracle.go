package billing

import (
	"context"
	"sync"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/service"
)

// StubOracle is an in-memory SubscriptionOracle for development and tests.
type StubOracle struct {
	mu       sync.RWMutex
	statuses map[string]*models.SubscriptionStatus
}

// NewStubOracle creates an oracle that reports "not subscribed" for unknown
// actors.
func NewStubOracle() *StubOracle {
	return &StubOracle{statuses: make(map[string]*models.SubscriptionStatus)}
}

// SetStatus installs a canned status for an actor.
func (o *StubOracle) SetStatus(actorID string, status *models.SubscriptionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[actorID] = status
}

// FetchStatus returns the canned status or "not subscribed".
func (o *StubOracle) FetchStatus(ctx context.Context, actorID string) (*models.SubscriptionStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status, ok := o.statuses[actorID]; ok {
		return status, nil
	}
	return models.NoSubscription(), nil
}

var _ service.SubscriptionOracle = (*StubOracle)(nil)
