package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// RejectReason distinguishes why a connect attempt was refused
type RejectReason string

const (
	ReasonTenantCapacity  RejectReason = "tenant-capacity"
	ReasonSessionCapacity RejectReason = "session-capacity"
	ReasonTenantRate      RejectReason = "tenant-rate"
	ReasonSessionRate     RejectReason = "session-rate"
	ReasonFault           RejectReason = "fault"
)

// AdmissionDecision is the terminal outcome of one connect attempt
type AdmissionDecision struct {
	Accepted bool
	Reason   RejectReason // set only when Accepted is false
}

// admissionState names each step of the connect state machine. The check
// order is fixed: it determines which rejection reason is reported when
// several quotas are exceeded at once, and tests observe that order.
type admissionState int

const (
	stateTenantCapacity admissionState = iota
	stateSessionCapacity
	stateTenantRate
	stateSessionRate
	stateCommit
	stateAccepted
	stateRejected
)

// AdmissionService decides whether a new connection is accepted under the
// tenant's quotas. The capacity and rate checks (steps 1-4) are advisory
// and racy by design: they bound over-admission under concurrency rather
// than eliminate it. Only the final commit is strongly consistent.
type AdmissionService struct {
	limiter  *RateLimitService
	registry *RegistryService
	counters store.CounterStore
	logger   *zap.Logger
}

// NewAdmissionService creates a new admission service
func NewAdmissionService(
	limiter *RateLimitService,
	registry *RegistryService,
	counters store.CounterStore,
	logger *zap.Logger,
) *AdmissionService {
	return &AdmissionService{
		limiter:  limiter,
		registry: registry,
		counters: counters,
		logger:   logger,
	}
}

// Admit runs the connect state machine for one connection attempt. Any
// unexpected fault rejects the attempt: admission fails closed, never
// silently accepts.
func (s *AdmissionService) Admit(ctx context.Context, auth *model.AuthContext, connectionID string) AdmissionDecision {
	a := &admission{
		svc:          s,
		auth:         auth,
		connectionID: connectionID,
		state:        stateTenantCapacity,
	}
	return a.run(ctx)
}

// admission holds the state of a single connect attempt
type admission struct {
	svc          *AdmissionService
	auth         *model.AuthContext
	connectionID string
	state        admissionState
	reason       RejectReason
}

func (a *admission) run(ctx context.Context) AdmissionDecision {
	for {
		switch a.state {
		case stateTenantCapacity:
			a.checkTenantCapacity(ctx)
		case stateSessionCapacity:
			a.checkSessionCapacity(ctx)
		case stateTenantRate:
			a.checkTenantRate(ctx)
		case stateSessionRate:
			a.checkSessionRate(ctx)
		case stateCommit:
			a.commit(ctx)
		case stateAccepted:
			return AdmissionDecision{Accepted: true}
		case stateRejected:
			return AdmissionDecision{Accepted: false, Reason: a.reason}
		}
	}
}

func (a *admission) reject(reason RejectReason) {
	a.reason = reason
	a.state = stateRejected
}

func (a *admission) fault(err error, step string) {
	a.svc.logger.Error("Admission fault",
		zap.String("step", step),
		zap.String("tenant_id", a.auth.TenantID),
		zap.String("session_id", a.auth.SessionID),
		zap.String("connection_id", a.connectionID),
		zap.Error(err))
	a.reject(ReasonFault)
}

// checkTenantCapacity compares the tenant's live connection count against
// its total connection budget. A missing counter means zero connections.
func (a *admission) checkTenantCapacity(ctx context.Context) {
	if a.auth.TenantConnections < 0 {
		a.state = stateSessionCapacity
		return
	}

	count, err := a.svc.counters.Get(ctx, a.auth.TenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.fault(err, "tenant-capacity")
		return
	}

	if count >= a.auth.TenantConnections {
		a.svc.logger.Info("Tenant over total connection limit",
			zap.String("tenant_id", a.auth.TenantID),
			zap.Int64("count", count),
			zap.Int64("limit", a.auth.TenantConnections))
		a.reject(ReasonTenantCapacity)
		return
	}

	a.state = stateSessionCapacity
}

// checkSessionCapacity compares the session's current set size against the
// per-session cap. A session with no record yet counts as empty.
func (a *admission) checkSessionCapacity(ctx context.Context) {
	if a.auth.ConnectionsPerSession < 0 {
		a.state = stateTenantRate
		return
	}

	snapshot, err := a.svc.registry.Snapshot(ctx, a.auth.TenantID, a.auth.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.fault(err, "session-capacity")
		return
	}

	if snapshot != nil && int64(len(snapshot.ConnectionIDs)) >= a.auth.ConnectionsPerSession {
		a.svc.logger.Info("Session over connection limit",
			zap.String("tenant_id", a.auth.TenantID),
			zap.String("session_id", a.auth.SessionID),
			zap.Int("count", len(snapshot.ConnectionIDs)),
			zap.Int64("limit", a.auth.ConnectionsPerSession))
		a.reject(ReasonSessionCapacity)
		return
	}

	a.state = stateTenantRate
}

func (a *admission) checkTenantRate(ctx context.Context) {
	if a.auth.TenantPerMinute < 0 {
		a.state = stateSessionRate
		return
	}

	decision, err := a.svc.limiter.CheckAndConsume(ctx, ConnectScope(a.auth.TenantID), a.auth.TenantPerMinute)
	if err != nil {
		a.fault(err, "tenant-rate")
		return
	}
	if !decision.Admitted {
		a.svc.logger.Info("Tenant over connect rate limit",
			zap.String("tenant_id", a.auth.TenantID),
			zap.Int64("count", decision.Count),
			zap.Int64("limit", a.auth.TenantPerMinute))
		a.reject(ReasonTenantRate)
		return
	}

	a.state = stateSessionRate
}

func (a *admission) checkSessionRate(ctx context.Context) {
	if a.auth.SessionPerMinute < 0 {
		a.state = stateCommit
		return
	}

	decision, err := a.svc.limiter.CheckAndConsume(ctx, SessionConnectScope(a.auth.TenantID, a.auth.SessionID), a.auth.SessionPerMinute)
	if err != nil {
		a.fault(err, "session-rate")
		return
	}
	if !decision.Admitted {
		a.svc.logger.Info("Session over connect rate limit",
			zap.String("tenant_id", a.auth.TenantID),
			zap.String("session_id", a.auth.SessionID),
			zap.Int64("count", decision.Count),
			zap.Int64("limit", a.auth.SessionPerMinute))
		a.reject(ReasonSessionRate)
		return
	}

	a.state = stateCommit
}

// commit is the single strongly-consistent step: the set add, the session
// expiry refresh and the tenant counter increment land together or not
// at all.
func (a *admission) commit(ctx context.Context) {
	_, err := a.svc.registry.AddConnection(ctx, a.auth.TenantID, a.auth.SessionID, a.connectionID, a.auth.SessionTTLSeconds)
	if err != nil {
		a.fault(err, "commit")
		return
	}

	a.state = stateAccepted
}

// Disconnect is the symmetric teardown: set remove and counter decrement
// in one transaction.
func (s *AdmissionService) Disconnect(ctx context.Context, tenantID, sessionID, connectionID string) error {
	return s.registry.RemoveConnection(ctx, tenantID, sessionID, connectionID)
}
