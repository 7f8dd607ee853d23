package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/repository"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// moduleEntitlementRow is the gorm mapping for module entitlement rows.
// Expired rows are kept as stored; expiry is the resolver's read-time concern.
type moduleEntitlementRow struct {
	ActorID     string     `gorm:"column:actor_id;primaryKey"`
	ModuleName  string     `gorm:"column:module_name;primaryKey"`
	Active      bool       `gorm:"column:active"`
	ActivatedAt *time.Time `gorm:"column:activated_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (moduleEntitlementRow) TableName() string { return "module_entitlements" }

// EntitlementRepoImpl implements the EntitlementStore contract using gorm.
type EntitlementRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewEntitlementRepository creates a gorm-backed entitlement store and ensures
// the table exists.
func NewEntitlementRepository(db *gorm.DB, log logger.Logger) (repository.EntitlementStore, error) {
	if err := db.AutoMigrate(&moduleEntitlementRow{}); err != nil {
		return nil, errors.ErrTransientStore("failed to migrate entitlement schema").WithCause(err)
	}

	return &EntitlementRepoImpl{
		db:     db,
		logger: log.WithComponent("entitlement_store"),
	}, nil
}

// ListModuleRows returns the actor's module rows as stored.
func (r *EntitlementRepoImpl) ListModuleRows(ctx context.Context, actorID string) ([]models.ModuleEntitlement, error) {
	var rows []moduleEntitlementRow

	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Find(&rows).Error
	if err != nil {
		r.logger.Error(ctx, "failed to list module rows", err,
			logger.String("actor_id", actorID),
		)
		return nil, errors.ErrTransientStore("failed to list module rows").WithCause(err)
	}

	entitlements := make([]models.ModuleEntitlement, 0, len(rows))
	for _, row := range rows {
		entitlements = append(entitlements, models.ModuleEntitlement{
			ActorID:     row.ActorID,
			ModuleName:  row.ModuleName,
			Active:      row.Active,
			ActivatedAt: row.ActivatedAt,
			ExpiresAt:   row.ExpiresAt,
		})
	}

	return entitlements, nil
}

// UpsertModuleRow creates or replaces one (actor, module) row.
func (r *EntitlementRepoImpl) UpsertModuleRow(ctx context.Context, row *models.ModuleEntitlement) error {
	record := moduleEntitlementRow{
		ActorID:     row.ActorID,
		ModuleName:  row.ModuleName,
		Active:      row.Active,
		ActivatedAt: row.ActivatedAt,
		ExpiresAt:   row.ExpiresAt,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "module_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "activated_at", "expires_at", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		r.logger.Error(ctx, "failed to upsert module row", err,
			logger.String("actor_id", row.ActorID),
			logger.String("module", row.ModuleName),
		)
		return errors.ErrTransientStore("failed to upsert module row").WithCause(err)
	}

	r.logger.Info(ctx, "module entitlement upserted",
		logger.String("actor_id", row.ActorID),
		logger.String("module", row.ModuleName),
		logger.Bool("active", row.Active),
	)

	return nil
}
