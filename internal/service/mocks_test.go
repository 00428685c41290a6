package service

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

var errDeliveryFailed = errors.New("delivery failed")

// MockCounterStore is a mock implementation of store.CounterStore
type MockCounterStore struct {
	mock.Mock
}

func (m *MockCounterStore) Get(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterStore) IncrementWithDefault(ctx context.Context, key string, delta int64, expiresAt int64) (int64, error) {
	args := m.Called(ctx, key, delta, expiresAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCounterStore) Close() error {
	args := m.Called()
	return args.Error(0)
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

// MockRemovalHandler is a mock implementation of RemovalHandler
type MockRemovalHandler struct {
	mock.Mock
}

func (m *MockRemovalHandler) HandleRemoval(ctx context.Context, removal *model.SessionRemoval) {
	m.Called(ctx, removal)
}

// delivery records one payload posted to one connection
type delivery struct {
	connectionID string
	payload      []byte
}

// fakeDeliverer records deliveries and closes in order, so tests can
// assert on fan-out ordering. Connections listed in gone return ErrGone;
// connections listed in failing return a generic error.
type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	closed     []string
	gone       map[string]bool
	failing    map[string]bool
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		gone:    make(map[string]bool),
		failing: make(map[string]bool),
	}
}

func (f *fakeDeliverer) PostToConnection(_ context.Context, connectionID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[connectionID] {
		return ErrGone
	}
	if f.failing[connectionID] {
		return errDeliveryFailed
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	f.deliveries = append(f.deliveries, delivery{connectionID: connectionID, payload: body})
	return nil
}

func (f *fakeDeliverer) ForceClose(_ context.Context, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[connectionID] {
		return errDeliveryFailed
	}
	f.closed = append(f.closed, connectionID)
	return nil
}

func (f *fakeDeliverer) deliveriesTo(connectionID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payloads [][]byte
	for _, d := range f.deliveries {
		if d.connectionID == connectionID {
			payloads = append(payloads, d.payload)
		}
	}
	return payloads
}
