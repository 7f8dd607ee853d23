package repository

import (
	"context"

	"github.com/turtacn/aegis/internal/domain/models"
)

// EntitlementStore persists per-(actor, module) activation rows. Expiry is not
// the store's concern; rows are returned as stored and the resolver applies
// the read-time expiry rule.
type EntitlementStore interface {
	// ListModuleRows returns all module rows held by the actor. An actor with
	// no rows returns an empty slice, not an error.
	ListModuleRows(ctx context.Context, actorID string) ([]models.ModuleEntitlement, error)

	// UpsertModuleRow creates or replaces one module row. Used by the
	// checkout-completion path when a purchase lands.
	UpsertModuleRow(ctx context.Context, row *models.ModuleEntitlement) error
}
