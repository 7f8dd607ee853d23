// Package billing consumes the payment provider's subscription status
// endpoint. The provider is a read-only oracle: checkout flow mechanics are
// out of scope, only the resulting status is read.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// statusResponse is the provider's wire shape for one actor.
type statusResponse struct {
	Subscribed      bool            `json:"subscribed"`
	Tier            string          `json:"tier,omitempty"`
	SubscriptionEnd *time.Time      `json:"subscription_end,omitempty"`
	ModuleOverrides map[string]bool `json:"module_overrides,omitempty"`
}

// HTTPOracle implements SubscriptionOracle against the provider's REST API.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

// NewHTTPOracle creates a provider client with a bounded request timeout.
func NewHTTPOracle(cfg *config.BillingConfig, log logger.Logger) (*HTTPOracle, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.ErrConfiguration("billing base_url is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}

	return &HTTPOracle{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent("billing_oracle"),
	}, nil
}

// FetchStatus reads the actor's subscription status. Failures are transient
// store errors; the caller decides whether cached state may stand in.
func (o *HTTPOracle) FetchStatus(ctx context.Context, actorID string) (*models.SubscriptionStatus, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", o.baseURL, actorID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.ErrServerError("failed to build provider request").WithCause(err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Warn(ctx, "provider status call failed",
			logger.String("actor_id", actorID),
			logger.Error(err),
		)
		return nil, errors.ErrTransientStore("subscription provider unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Provider has never seen the actor: not subscribed.
		return models.NoSubscription(), nil
	case resp.StatusCode != http.StatusOK:
		return nil, errors.ErrTransientStore(
			fmt.Sprintf("subscription provider returned status %d", resp.StatusCode))
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.ErrTransientStore("failed to decode provider response").WithCause(err)
	}

	status := &models.SubscriptionStatus{
		Subscribed:      body.Subscribed,
		SubscriptionEnd: body.SubscriptionEnd,
		ModuleOverrides: body.ModuleOverrides,
	}
	if body.Subscribed && body.Tier != "" {
		tier := constants.SubscriptionTier(body.Tier)
		status.Tier = &tier
	}

	return status, nil
}

var _ service.SubscriptionOracle = (*HTTPOracle)(nil)
