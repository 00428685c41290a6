package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

func newDispatchFixture() (*DispatchService, *MockCounterStore, *MockSessionStore, *fakeDeliverer) {
	mockCounters := new(MockCounterStore)
	mockSessions := new(MockSessionStore)
	deliverer := newFakeDeliverer()
	logger := zap.NewNop()

	limiter := NewRateLimitService(mockCounters, logger)
	limiter.now = fixedClock(1700000400)
	registry := NewRegistryService(mockSessions, logger)
	registry.now = fixedClock(1700000400)

	return NewDispatchService(limiter, registry, deliverer, logger), mockCounters, mockSessions, deliverer
}

func inbound(body string) *model.InboundMessage {
	return &model.InboundMessage{
		TenantID:          "t1",
		SessionID:         "s1",
		ConnectionID:      "sender",
		RequestID:         "req-1",
		Body:              []byte(body),
		MessagesPerMinute: 100,
		SessionTTLSeconds: 600,
	}
}

func TestDispatchService_FanOutRawThenEnvelope(t *testing.T) {
	svc, mockCounters, mockSessions, deliverer := newDispatchFixture()
	ctx := context.Background()

	mockCounters.On("IncrementWithDefault", ctx, "t1:minutemsg:1700000400", int64(1), int64(1700000461)).
		Return(int64(1), nil)
	mockSessions.On("RefreshTTL", ctx, "t1", "s1", int64(1700001000)).
		Return([]string{"sender", "peer-a", "peer-b"}, nil)

	result, err := svc.Dispatch(ctx, inbound(`{"text":"hi"}`))

	assert.NoError(t, err)
	assert.Equal(t, DispatchDelivered, result)

	// Peers receive the raw body first, then the envelope.
	peerA := deliverer.deliveriesTo("peer-a")
	assert.Len(t, peerA, 2)
	assert.JSONEq(t, `{"text":"hi"}`, string(peerA[0]))

	var env model.Envelope
	assert.NoError(t, json.Unmarshal(peerA[1], &env))
	assert.Equal(t, "t1", env.TenantID)
	assert.Equal(t, "s1", env.SessionID)
	assert.Equal(t, "sender", env.ConnectionID)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Message))

	// The sender receives only the envelope, never its own raw body.
	sender := deliverer.deliveriesTo("sender")
	assert.Len(t, sender, 1)
	assert.NoError(t, json.Unmarshal(sender[0], &env))
	assert.Equal(t, "sender", env.ConnectionID)

	// All raw deliveries precede all envelope deliveries.
	assert.Len(t, deliverer.deliveries, 5)
	assert.JSONEq(t, `{"text":"hi"}`, string(deliverer.deliveries[0].payload))
	assert.JSONEq(t, `{"text":"hi"}`, string(deliverer.deliveries[1].payload))
	for _, d := range deliverer.deliveries[2:] {
		assert.NoError(t, json.Unmarshal(d.payload, &env))
		assert.Equal(t, "sender", env.ConnectionID)
	}
	mockSessions.AssertExpectations(t)
}

func TestDispatchService_EnvelopeCarriesQueueTag(t *testing.T) {
	svc, mockCounters, mockSessions, deliverer := newDispatchFixture()
	ctx := context.Background()

	msg := inbound(`{"n":1}`)
	msg.Queue = "ingest-1"

	mockCounters.On("IncrementWithDefault", ctx, mock.Anything, int64(1), mock.Anything).
		Return(int64(1), nil)
	mockSessions.On("RefreshTTL", ctx, "t1", "s1", int64(1700001000)).
		Return([]string{"sender"}, nil)

	_, err := svc.Dispatch(ctx, msg)
	assert.NoError(t, err)

	var env model.Envelope
	assert.NoError(t, json.Unmarshal(deliverer.deliveriesTo("sender")[0], &env))
	assert.Equal(t, "ingest-1", env.Queue)
}

func TestDispatchService_Throttled(t *testing.T) {
	svc, mockCounters, mockSessions, deliverer := newDispatchFixture()
	ctx := context.Background()

	msg := inbound(`{"text":"hi"}`)
	msg.MessagesPerMinute = 5

	mockCounters.On("IncrementWithDefault", ctx, "t1:minutemsg:1700000400", int64(1), int64(1700000461)).
		Return(int64(6), nil)

	result, err := svc.Dispatch(ctx, msg)

	assert.NoError(t, err)
	assert.Equal(t, DispatchThrottled, result)

	// A throttled message never refreshes the session TTL.
	mockSessions.AssertNotCalled(t, "RefreshTTL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Only the sender hears about it, in the fixed wire shape.
	assert.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, "sender", deliverer.deliveries[0].connectionID)
	assert.JSONEq(t,
		`{"message":"Too Many Requests","connectionId":"sender","requestId":"req-1"}`,
		string(deliverer.deliveries[0].payload))
}

func TestDispatchService_UnlimitedMessageQuotaSkipsCheck(t *testing.T) {
	svc, mockCounters, mockSessions, _ := newDispatchFixture()
	ctx := context.Background()

	msg := inbound(`{"text":"hi"}`)
	msg.MessagesPerMinute = model.UnlimitedQuota

	mockSessions.On("RefreshTTL", ctx, "t1", "s1", int64(1700001000)).
		Return([]string{"sender"}, nil)

	result, err := svc.Dispatch(ctx, msg)

	assert.NoError(t, err)
	assert.Equal(t, DispatchDelivered, result)
	mockCounters.AssertNotCalled(t, "IncrementWithDefault", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchService_InvalidJSONIsFault(t *testing.T) {
	svc, mockCounters, mockSessions, deliverer := newDispatchFixture()
	ctx := context.Background()

	mockCounters.On("IncrementWithDefault", ctx, mock.Anything, int64(1), mock.Anything).
		Return(int64(1), nil)

	_, err := svc.Dispatch(ctx, inbound(`not json`))

	assert.Error(t, err)
	assert.Empty(t, deliverer.deliveries)
	mockSessions.AssertNotCalled(t, "RefreshTTL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchService_GoneSessionIsFault(t *testing.T) {
	svc, mockCounters, mockSessions, _ := newDispatchFixture()
	ctx := context.Background()

	mockCounters.On("IncrementWithDefault", ctx, mock.Anything, int64(1), mock.Anything).
		Return(int64(1), nil)
	mockSessions.On("RefreshTTL", ctx, "t1", "s1", int64(1700001000)).
		Return(nil, store.ErrNotFound)

	_, err := svc.Dispatch(ctx, inbound(`{"text":"hi"}`))

	assert.Error(t, err)
}

func TestDispatchService_FailedMemberDoesNotAbortFanOut(t *testing.T) {
	svc, mockCounters, mockSessions, deliverer := newDispatchFixture()
	ctx := context.Background()

	deliverer.gone["peer-a"] = true
	deliverer.failing["peer-b"] = true

	mockCounters.On("IncrementWithDefault", ctx, mock.Anything, int64(1), mock.Anything).
		Return(int64(1), nil)
	mockSessions.On("RefreshTTL", ctx, "t1", "s1", int64(1700001000)).
		Return([]string{"peer-a", "peer-b", "peer-c", "sender"}, nil)

	result, err := svc.Dispatch(ctx, inbound(`{"text":"hi"}`))

	assert.NoError(t, err)
	assert.Equal(t, DispatchDelivered, result)
	// peer-c still gets both payloads, the sender its envelope.
	assert.Len(t, deliverer.deliveriesTo("peer-c"), 2)
	assert.Len(t, deliverer.deliveriesTo("sender"), 1)
	assert.Empty(t, deliverer.deliveriesTo("peer-a"))
	assert.Empty(t, deliverer.deliveriesTo("peer-b"))
}

func TestDispatchService_RateCheckErrorIsFault(t *testing.T) {
	svc, mockCounters, _, deliverer := newDispatchFixture()
	ctx := context.Background()

	mockCounters.On("IncrementWithDefault", ctx, mock.Anything, int64(1), mock.Anything).
		Return(int64(0), errors.New("store down"))

	_, err := svc.Dispatch(ctx, inbound(`{"text":"hi"}`))

	assert.Error(t, err)
	assert.Empty(t, deliverer.deliveries)
}
