package consumers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/pkg/logger"
)

// recordingStore captures upserted module rows.
type recordingStore struct {
	mu   sync.Mutex
	rows []models.ModuleEntitlement
}

func (r *recordingStore) ListModuleRows(ctx context.Context, actorID string) ([]models.ModuleEntitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ModuleEntitlement
	for _, row := range r.rows {
		if row.ActorID == actorID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *recordingStore) UpsertModuleRow(ctx context.Context, row *models.ModuleEntitlement) error {
	r.mu.Lock()
	r.rows = append(r.rows, *row)
	r.mu.Unlock()
	return nil
}

// recordingEntitlement captures forced refreshes.
type recordingEntitlement struct {
	mu        sync.Mutex
	refreshed []string
}

func (r *recordingEntitlement) Resolve(ctx context.Context, actor models.Actor) (*models.Entitlements, error) {
	return &models.Entitlements{ActorID: actor.ID}, nil
}

func (r *recordingEntitlement) HasModuleAccess(ctx context.Context, actor models.Actor, moduleName string) (bool, error) {
	return false, nil
}

func (r *recordingEntitlement) ForceRefresh(ctx context.Context, actorID string) error {
	r.mu.Lock()
	r.refreshed = append(r.refreshed, actorID)
	r.mu.Unlock()
	return nil
}

func newTestConsumer(t *testing.T) (*CheckoutConsumer, *recordingStore, *recordingEntitlement) {
	t.Helper()
	store := &recordingStore{}
	entitlement := &recordingEntitlement{}
	consumer := NewCheckoutConsumer(
		config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, CheckoutTopic: "checkout"},
		store, entitlement, nil, logger.NewNoopLogger(),
	)
	return consumer, store, entitlement
}

func TestCheckoutConsumer_RecordsRowAndRefreshes(t *testing.T) {
	consumer, store, entitlement := newTestConsumer(t)

	consumer.handle(context.Background(), []byte(`{"actor_id":"acct-1","module_name":"reports","tier":"pro"}`))

	require.Len(t, store.rows, 1)
	assert.Equal(t, "acct-1", store.rows[0].ActorID)
	assert.Equal(t, "reports", store.rows[0].ModuleName)
	assert.True(t, store.rows[0].Active)
	require.NotNil(t, store.rows[0].ActivatedAt)
	assert.Equal(t, []string{"acct-1"}, entitlement.refreshed)
}

func TestCheckoutConsumer_TierOnlyEventRefreshesWithoutRow(t *testing.T) {
	consumer, store, entitlement := newTestConsumer(t)

	// A plain subscription purchase carries no module; only the oracle-backed
	// view changes, so a refresh suffices.
	consumer.handle(context.Background(), []byte(`{"actor_id":"acct-2","tier":"enterprise"}`))

	assert.Empty(t, store.rows)
	assert.Equal(t, []string{"acct-2"}, entitlement.refreshed)
}

func TestCheckoutConsumer_DiscardsMalformedEvents(t *testing.T) {
	consumer, store, entitlement := newTestConsumer(t)

	consumer.handle(context.Background(), []byte(`not json`))
	consumer.handle(context.Background(), []byte(`{"module_name":"reports"}`))

	assert.Empty(t, store.rows)
	assert.Empty(t, entitlement.refreshed)
}
