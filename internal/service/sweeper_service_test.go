package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

func newSweeperFixture() (*SweeperService, *MockSessionStore, *MockRemovalHandler) {
	mockSessions := new(MockSessionStore)
	mockHandler := new(MockRemovalHandler)
	svc := NewSweeperService(mockSessions, mockHandler, time.Second, 100, zap.NewNop())
	svc.now = fixedClock(1700000400)
	return svc, mockSessions, mockHandler
}

func TestSweeperService_ExpiresDueSessions(t *testing.T) {
	svc, mockSessions, mockHandler := newSweeperFixture()
	ctx := context.Background()

	mockSessions.On("DueSessions", ctx, int64(1700000400), int64(100)).
		Return([]store.SessionRef{
			{TenantID: "t1", SessionID: "s1"},
			{TenantID: "t2", SessionID: "s9"},
		}, nil)
	mockSessions.On("Expire", ctx, "t1", "s1", int64(1700000400)).
		Return([]string{"c1", "c2"}, nil)
	mockSessions.On("Expire", ctx, "t2", "s9", int64(1700000400)).
		Return([]string{}, nil)

	mockHandler.On("HandleRemoval", ctx, &model.SessionRemoval{
		TenantID:      "t1",
		SessionID:     "s1",
		ConnectionIDs: []string{"c1", "c2"},
		Expired:       true,
	}).Return()
	mockHandler.On("HandleRemoval", ctx, &model.SessionRemoval{
		TenantID:      "t2",
		SessionID:     "s9",
		ConnectionIDs: []string{},
		Expired:       true,
	}).Return()

	svc.Sweep(ctx)

	mockSessions.AssertExpectations(t)
	mockHandler.AssertExpectations(t)
}

func TestSweeperService_RefreshedSessionIsSkipped(t *testing.T) {
	svc, mockSessions, mockHandler := newSweeperFixture()
	ctx := context.Background()

	// The session was refreshed between the scan and the conditional
	// expire, so the expire declines and no removal is reported.
	mockSessions.On("DueSessions", ctx, int64(1700000400), int64(100)).
		Return([]store.SessionRef{{TenantID: "t1", SessionID: "s1"}}, nil)
	mockSessions.On("Expire", ctx, "t1", "s1", int64(1700000400)).
		Return(nil, store.ErrNotFound)

	svc.Sweep(ctx)

	mockHandler.AssertNotCalled(t, "HandleRemoval", mock.Anything, mock.Anything)
}

func TestSweeperService_ExpireFaultContinuesBatch(t *testing.T) {
	svc, mockSessions, mockHandler := newSweeperFixture()
	ctx := context.Background()

	mockSessions.On("DueSessions", ctx, int64(1700000400), int64(100)).
		Return([]store.SessionRef{
			{TenantID: "t1", SessionID: "s1"},
			{TenantID: "t1", SessionID: "s2"},
		}, nil)
	mockSessions.On("Expire", ctx, "t1", "s1", int64(1700000400)).
		Return(nil, errors.New("store down"))
	mockSessions.On("Expire", ctx, "t1", "s2", int64(1700000400)).
		Return([]string{"c9"}, nil)

	mockHandler.On("HandleRemoval", ctx, mock.MatchedBy(func(r *model.SessionRemoval) bool {
		return r.SessionID == "s2" && r.Expired
	})).Return()

	svc.Sweep(ctx)

	mockSessions.AssertExpectations(t)
	mockHandler.AssertExpectations(t)
}

func TestSweeperService_ScanFaultIsQuiet(t *testing.T) {
	svc, mockSessions, mockHandler := newSweeperFixture()
	ctx := context.Background()

	mockSessions.On("DueSessions", ctx, int64(1700000400), int64(100)).
		Return(nil, errors.New("store down"))

	svc.Sweep(ctx)

	mockHandler.AssertNotCalled(t, "HandleRemoval", mock.Anything, mock.Anything)
}
