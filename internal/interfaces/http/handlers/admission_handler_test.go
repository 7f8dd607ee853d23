package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/aegis/internal/application/dto"
	"github.com/turtacn/aegis/internal/domain/models"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/constants"
)

// MockAdmissionService is a mock for the AdmissionService.
type MockAdmissionService struct {
	mock.Mock
}

func (m *MockAdmissionService) CheckAdmission(ctx context.Context, actor models.Actor, class constants.ActionClass, module string) (*models.Decision, error) {
	args := m.Called(ctx, actor, class, module)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Decision), args.Error(1)
}

func (m *MockAdmissionService) ConfirmUsage(ctx context.Context, actor models.Actor) (bool, *models.UsageQuota, error) {
	args := m.Called(ctx, actor)
	var quota *models.UsageQuota
	if args.Get(1) != nil {
		quota = args.Get(1).(*models.UsageQuota)
	}
	return args.Bool(0), quota, args.Error(2)
}

func (m *MockAdmissionService) ReportAuthResult(ctx context.Context, key string, success bool) {
	m.Called(ctx, key, success)
}

// MockQuotaService is a mock for the QuotaService.
type MockQuotaService struct {
	mock.Mock
}

func (m *MockQuotaService) GetStatus(ctx context.Context, actorID string) (*domainService.QuotaStatus, error) {
	args := m.Called(ctx, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainService.QuotaStatus), args.Error(1)
}

func (m *MockQuotaService) Decrement(ctx context.Context, actorID string) (bool, error) {
	args := m.Called(ctx, actorID)
	return args.Bool(0), args.Error(1)
}

func newTestRouter(admission *MockAdmissionService, quota *MockQuotaService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewAdmissionHandler(admission, quota, nil)

	engine := gin.New()
	engine.POST("/v1/admission/check", handler.CheckAdmission)
	engine.POST("/v1/admission/confirm", handler.ConfirmUsage)
	engine.POST("/v1/auth/attempts", handler.ReportAuthAttempt)
	engine.GET("/v1/actors/:actor_id/quota", handler.GetQuota)
	return engine
}

func TestCheckAdmission_Admitted(t *testing.T) {
	admission := new(MockAdmissionService)
	admission.On("CheckAdmission", mock.Anything, mock.Anything, constants.ActionClassMetered, "reports").
		Return(models.Admit(), nil)

	engine := newTestRouter(admission, new(MockQuotaService))

	body, _ := json.Marshal(dto.AdmissionCheckRequest{ActionClass: "metered", Module: "reports"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admission/check", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.AdmissionDecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	admission.AssertExpectations(t)
}

func TestCheckAdmission_DeniedCarriesReasonAndRetryAfter(t *testing.T) {
	admission := new(MockAdmissionService)
	admission.On("CheckAdmission", mock.Anything, mock.Anything, constants.ActionClassAuth, "").
		Return(models.DenyRateLimited(9), nil)

	engine := newTestRouter(admission, new(MockQuotaService))

	body, _ := json.Marshal(dto.AdmissionCheckRequest{ActionClass: "auth"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admission/check", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "denial is a decision, not a transport error")
	var resp dto.AdmissionDecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Admitted)
	assert.Equal(t, string(constants.DenyReasonRateLimited), resp.Reason)
	assert.Equal(t, 540, resp.RetryAfterSeconds)
}

func TestCheckAdmission_RejectsUnknownActionClass(t *testing.T) {
	engine := newTestRouter(new(MockAdmissionService), new(MockQuotaService))

	body, _ := json.Marshal(dto.AdmissionCheckRequest{ActionClass: "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admission/check", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmUsage_ReportsConsumption(t *testing.T) {
	admission := new(MockAdmissionService)
	admission.On("ConfirmUsage", mock.Anything, mock.Anything).
		Return(true, &models.UsageQuota{ActorID: "anon:192.0.2.1", FreeUsesRemaining: 9, TotalFreeUses: 10}, nil)

	engine := newTestRouter(admission, new(MockQuotaService))

	req := httptest.NewRequest(http.MethodPost, "/v1/admission/confirm", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ConfirmUsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Consumed)
	assert.Equal(t, 9, resp.FreeUsesRemaining)
}

func TestReportAuthAttempt_FeedsService(t *testing.T) {
	admission := new(MockAdmissionService)
	admission.On("ReportAuthResult", mock.Anything, "alice@example.com", false).Return()

	engine := newTestRouter(admission, new(MockQuotaService))

	body, _ := json.Marshal(dto.AuthAttemptRequest{Key: "alice@example.com", Success: false})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/attempts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	admission.AssertExpectations(t)
}

func TestGetQuota_ReturnsSnapshot(t *testing.T) {
	quota := new(MockQuotaService)
	quota.On("GetStatus", mock.Anything, "acct-1").Return(&domainService.QuotaStatus{
		Quota: &models.UsageQuota{ActorID: "acct-1", FreeUsesRemaining: 3, TotalFreeUses: 10},
	}, nil)

	engine := newTestRouter(new(MockAdmissionService), quota)

	req := httptest.NewRequest(http.MethodGet, "/v1/actors/acct-1/quota", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.QuotaStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.FreeUsesRemaining)
	assert.False(t, resp.Degraded)
}
