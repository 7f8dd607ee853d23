package service

import (
	"context"
	"math"
	"time"

	"github.com/turtacn/aegis/internal/domain/models"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/infrastructure/monitoring"
	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// AdmissionService is the single decision point for whether an action
// proceeds. Auth-class actions consult only the failure limiter; metered
// actions consult entitlements first, then the free-use quota. Admission never
// consumes quota; callers charge a unit through ConfirmUsage after the action
// succeeds, so a failed action costs nothing.
type AdmissionService interface {
	// CheckAdmission decides whether the action may proceed. The returned
	// decision always carries a reason on denial.
	CheckAdmission(ctx context.Context, actor models.Actor, class constants.ActionClass, module string) (*models.Decision, error)

	// ConfirmUsage charges one free use after a metered action succeeded.
	// Subscribed actors are never charged. False means the allowance ran out
	// between check and confirm.
	ConfirmUsage(ctx context.Context, actor models.Actor) (bool, *models.UsageQuota, error)

	// ReportAuthResult feeds an authentication outcome into the failure
	// limiter: a failure counts against the key, a success clears it.
	ReportAuthResult(ctx context.Context, key string, success bool)
}

type admissionServiceImpl struct {
	authLimiter domainService.RateLimitService
	quota       domainService.QuotaService
	entitlement domainService.EntitlementService
	audit       domainService.AuditService
	metrics     *monitoring.Metrics
	logger      logger.Logger
}

// NewAdmissionService wires the three gates into one controller. audit and
// metrics may be nil.
func NewAdmissionService(
	authLimiter domainService.RateLimitService,
	quota domainService.QuotaService,
	entitlement domainService.EntitlementService,
	audit domainService.AuditService,
	metrics *monitoring.Metrics,
	log logger.Logger,
) AdmissionService {
	return &admissionServiceImpl{
		authLimiter: authLimiter,
		quota:       quota,
		entitlement: entitlement,
		audit:       audit,
		metrics:     metrics,
		logger:      log.WithComponent("admission_service"),
	}
}

func (s *admissionServiceImpl) CheckAdmission(ctx context.Context, actor models.Actor, class constants.ActionClass, module string) (*models.Decision, error) {
	if !actor.Valid() {
		return nil, errors.ErrInvalidActor("actor is malformed")
	}

	start := time.Now()
	var decision *models.Decision
	var err error

	switch class {
	case constants.ActionClassAuth:
		decision = s.checkAuth(ctx, actor)
	case constants.ActionClassMetered:
		decision, err = s.checkMetered(ctx, actor, module)
	default:
		return nil, errors.ErrInvalidRequest("unknown action class")
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAdmission(class, decision.Admitted, decision.Reason, time.Since(start))
	}
	if !decision.Admitted {
		s.auditDeny(ctx, actor, module, decision)
	}
	return decision, nil
}

// checkAuth applies only the failure limiter. The limiter key for auth
// actions is the actor ID, which callers derive from the credential being
// tried, not from the session.
func (s *admissionServiceImpl) checkAuth(ctx context.Context, actor models.Actor) *models.Decision {
	if s.authLimiter.TryAcquire(actor.ID) {
		return models.Admit()
	}

	remaining := s.authLimiter.RemainingBlock(actor.ID)
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	s.logger.Info(ctx, "auth action rate limited",
		logger.String("actor_id", actor.ID),
		logger.Int("retry_after_minutes", minutes),
	)
	return models.DenyRateLimited(minutes)
}

// checkMetered runs entitlement first, quota second. An active entitlement
// (or enterprise override) admits without touching quota, so entitled actors
// never burn free uses.
func (s *admissionServiceImpl) checkMetered(ctx context.Context, actor models.Actor, module string) (*models.Decision, error) {
	if module == "" {
		return nil, errors.ErrInvalidRequest("module is required for metered actions")
	}

	degraded := false

	entitled, err := s.entitlement.HasModuleAccess(ctx, actor, module)
	if err != nil {
		if !errors.IsTransient(err) {
			return nil, err
		}
		// The oracle or store is down. Treat as not entitled and let the
		// quota gate decide, flagging the decision as degraded.
		s.logger.Warn(ctx, "entitlement resolution degraded",
			logger.String("actor_id", actor.ID),
			logger.String("module", module),
			logger.Error(err),
		)
		degraded = true
	}
	if entitled {
		decision := models.Admit()
		decision.StoreDegraded = degraded
		return decision, nil
	}

	status, err := s.quota.GetStatus(ctx, actor.ID)
	if err != nil && status == nil {
		return nil, err
	}
	if status.Degraded {
		degraded = true
		if s.metrics != nil {
			s.metrics.RecordStoreDegradation("quota")
		}
	}

	if status.Quota.CanUse() {
		decision := models.Admit()
		decision.StoreDegraded = degraded
		return decision, nil
	}

	reason := constants.DenyReasonQuotaExhausted
	if !actor.IsAuthenticated() || degraded {
		// Anonymous actors with nothing left need an account or a purchase,
		// and a degraded read must not claim the allowance is spent.
		reason = constants.DenyReasonEntitlementRequired
	}

	decision := models.Deny(reason)
	decision.StoreDegraded = degraded
	return decision, nil
}

func (s *admissionServiceImpl) ConfirmUsage(ctx context.Context, actor models.Actor) (bool, *models.UsageQuota, error) {
	if !actor.Valid() {
		return false, nil, errors.ErrInvalidActor("actor is malformed")
	}

	// A degraded snapshot still exempts a subscriber; the flag was mirrored by
	// the last successful entitlement refresh and a store outage must not turn
	// it into a charge.
	status, _ := s.quota.GetStatus(ctx, actor.ID)
	if status != nil && status.Quota.HasActiveSubscription {
		return true, status.Quota, nil
	}

	consumed, err := s.quota.Decrement(ctx, actor.ID)
	if err != nil {
		return false, nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotaDecrement(consumed)
	}

	status, statusErr := s.quota.GetStatus(ctx, actor.ID)
	if statusErr != nil || status == nil {
		return consumed, nil, nil
	}
	return consumed, status.Quota, nil
}

func (s *admissionServiceImpl) ReportAuthResult(ctx context.Context, key string, success bool) {
	if key == "" {
		return
	}
	if success {
		s.authLimiter.Reset(key)
		return
	}
	s.authLimiter.RecordFailure(key)
}

func (s *admissionServiceImpl) auditDeny(ctx context.Context, actor models.Actor, module string, decision *models.Decision) {
	if s.audit == nil {
		return
	}
	event := domainService.AuditEvent{
		EventType:  "admission_denied",
		ActorID:    actor.ID,
		Module:     module,
		Reason:     string(decision.Reason),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.audit.LogEvent(ctx, event); err != nil {
		s.logger.Warn(ctx, "failed to publish audit event",
			logger.String("actor_id", actor.ID),
			logger.Error(err),
		)
	}
}
