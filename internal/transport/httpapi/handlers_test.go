package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/service"
	"github.com/fanoutlabs/gateway/internal/store"
)

// MockTenantStore is a mock implementation of store.TenantStore
type MockTenantStore struct {
	mock.Mock
}

func (m *MockTenantStore) GetTenant(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantSettings), args.Error(1)
}

func (m *MockTenantStore) ListTenants(ctx context.Context) ([]*model.TenantSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.TenantSettings), args.Error(1)
}

func (m *MockTenantStore) CreateTenant(ctx context.Context, settings *model.TenantSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockTenantStore) DeleteTenant(ctx context.Context, tenantID string) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *MockTenantStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTenantStore) Close() {
	m.Called()
}

// MockSessionStore is a mock implementation of store.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Get(ctx context.Context, tenantID, sessionID string) (*model.SessionSnapshot, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionSnapshot), args.Error(1)
}

func (m *MockSessionStore) Put(ctx context.Context, tenantID, sessionID string, expiresAt int64) error {
	args := m.Called(ctx, tenantID, sessionID, expiresAt)
	return args.Error(0)
}

func (m *MockSessionStore) AddConnection(ctx context.Context, tenantID, sessionID, connectionID string, expiresAt int64) ([]string, error) {
	args := m.Called(ctx, tenantID, sessionID, connectionID, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionStore) RemoveConnection(ctx context.Context, tenantID, sessionID, connectionID string) error {
	args := m.Called(ctx, tenantID, sessionID, connectionID)
	return args.Error(0)
}

func (m *MockSessionStore) RefreshTTL(ctx context.Context, tenantID, sessionID string, expiresAt int64) ([]string, error) {
	args := m.Called(ctx, tenantID, sessionID, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, tenantID, sessionID string) ([]string, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionStore) Expire(ctx context.Context, tenantID, sessionID string, cutoff int64) ([]string, error) {
	args := m.Called(ctx, tenantID, sessionID, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionStore) DueSessions(ctx context.Context, cutoff int64, limit int64) ([]store.SessionRef, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.SessionRef), args.Error(1)
}

func (m *MockSessionStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSessionStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type noopRemovalHandler struct{}

func (noopRemovalHandler) HandleRemoval(context.Context, *model.SessionRemoval) {}

func newHandlersFixture() (*Handlers, *MockTenantStore, *MockSessionStore) {
	mockTenants := new(MockTenantStore)
	mockSessions := new(MockSessionStore)
	logger := zap.NewNop()

	cache := store.NewInMemoryCache(10, logger)
	tenantService := service.NewTenantService(mockTenants, cache, time.Minute, logger)
	sessionService := service.NewSessionService(tenantService, mockSessions, noopRemovalHandler{}, logger)

	return NewHandlers(tenantService, sessionService, logger), mockTenants, mockSessions
}

func TestHandlers_ListTenants(t *testing.T) {
	h, mockTenants, _ := newHandlersFixture()

	mockTenants.On("ListTenants", mock.Anything).Return([]*model.TenantSettings{
		{TenantID: "t1", TenantConnections: 10, SessionTTLSeconds: 600},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/tenants", nil)
	rec := httptest.NewRecorder()

	h.ListTenants(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenantId":"t1"`)
	assert.Contains(t, rec.Body.String(), `"sessionTTL":600`)
}

func TestHandlers_CreateTenant(t *testing.T) {
	h, mockTenants, _ := newHandlersFixture()

	mockTenants.On("CreateTenant", mock.Anything, mock.MatchedBy(func(s *model.TenantSettings) bool {
		return s.TenantID == "t1" && s.MessagesPerMinute == 200
	})).Return(nil)

	body := `{"tenantId":"t1","tenantConnections":100,"messagesPerMinute":200,"sessionTTL":600}`
	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTenant(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	mockTenants.AssertExpectations(t)
}

func TestHandlers_CreateTenant_BadBody(t *testing.T) {
	h, _, _ := newHandlersFixture()

	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	h.CreateTenant(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_DeleteTenant_NotFound(t *testing.T) {
	h, mockTenants, _ := newHandlersFixture()

	mockTenants.On("DeleteTenant", mock.Anything, "ghost").Return(store.ErrNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/tenants/ghost", nil)
	req = mux.SetURLVars(req, map[string]string{"tenantId": "ghost"})
	rec := httptest.NewRecorder()

	h.DeleteTenant(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_PutSession(t *testing.T) {
	h, mockTenants, mockSessions := newHandlersFixture()

	mockTenants.On("GetTenant", mock.Anything, "t1").
		Return(&model.TenantSettings{TenantID: "t1", SessionTTLSeconds: 600}, nil)
	mockSessions.On("Put", mock.Anything, "t1", "s1", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPut, "/session?tenantId=t1&sessionId=s1", nil)
	rec := httptest.NewRecorder()

	h.PutSession(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockSessions.AssertExpectations(t)
}

func TestHandlers_PutSession_UnknownTenant(t *testing.T) {
	h, mockTenants, _ := newHandlersFixture()

	mockTenants.On("GetTenant", mock.Anything, "ghost").Return(nil, store.ErrNotFound)

	req := httptest.NewRequest(http.MethodPut, "/session?tenantId=ghost&sessionId=s1", nil)
	rec := httptest.NewRecorder()

	h.PutSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_DeleteSession(t *testing.T) {
	h, _, mockSessions := newHandlersFixture()

	mockSessions.On("Delete", mock.Anything, "t1", "s1").Return([]string{"c1"}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/session?tenantId=t1&sessionId=s1", nil)
	rec := httptest.NewRecorder()

	h.DeleteSession(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlers_DeleteSession_NotFound(t *testing.T) {
	h, _, mockSessions := newHandlersFixture()

	mockSessions.On("Delete", mock.Anything, "t1", "ghost").Return(nil, store.ErrNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/session?tenantId=t1&sessionId=ghost", nil)
	rec := httptest.NewRecorder()

	h.DeleteSession(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
