package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
)

// The multi-key session mutations run as server-side scripts so the
// connection set, the session expiry and the tenant connection counter
// either all commit or none do. Scripts are the storage engine's atomic
// multi-item primitive here.

// addConnectionScript captures the pre-mutation set, adds the connection,
// refreshes the session expiry and increments the tenant counter.
// KEYS: conns set, session hash, expiry index, tenant counter.
// ARGV: connection id, absolute expiry, index member.
var addConnectionScript = redis.NewScript(`
local old = redis.call('SMEMBERS', KEYS[1])
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'ttl', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[3])
redis.call('INCR', KEYS[4])
return old
`)

// removeConnectionScript decrements the tenant counter only when the
// connection was actually a member, and never drives it below zero.
// KEYS: conns set, tenant counter. ARGV: connection id.
var removeConnectionScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 then
    local count = redis.call('DECR', KEYS[2])
    if count < 0 then
        redis.call('SET', KEYS[2], '0')
    end
end
return removed
`)

// refreshTTLScript moves the session expiry and returns the connection set
// captured in the same step. Returns false when the session is gone.
// KEYS: conns set, session hash, expiry index. ARGV: expiry, index member.
var refreshTTLScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
    return false
end
local members = redis.call('SMEMBERS', KEYS[1])
redis.call('HSET', KEYS[2], 'ttl', ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
return members
`)

// deleteScript removes the session outright, returning the prior set.
// The tenant counter gives back every seat the removed set still held;
// the individual disconnects that follow find their id already gone and
// decrement nothing, keeping the counter equal to the surviving sets.
// KEYS: conns set, session hash, expiry index, tenant counter.
// ARGV: index member.
var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
    return false
end
local members = redis.call('SMEMBERS', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
if #members > 0 then
    local count = redis.call('DECRBY', KEYS[4], #members)
    if count < 0 then
        redis.call('SET', KEYS[4], '0')
    end
end
return members
`)

// expireScript removes the session only if its expiry is still at or
// before the cutoff, so a session refreshed after the sweep scan survives.
// Like deleteScript it returns the removed seats to the tenant counter.
// KEYS: conns set, session hash, expiry index, tenant counter.
// ARGV: cutoff, index member.
var expireScript = redis.NewScript(`
local expiry = redis.call('HGET', KEYS[2], 'ttl')
if not expiry then
    redis.call('ZREM', KEYS[3], ARGV[2])
    return false
end
if tonumber(expiry) > tonumber(ARGV[1]) then
    return false
end
local members = redis.call('SMEMBERS', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[2])
if #members > 0 then
    local count = redis.call('DECRBY', KEYS[4], #members)
    if count < 0 then
        redis.call('SET', KEYS[4], '0')
    end
end
return members
`)

// RedisSessionStore implements SessionStore on Redis
type RedisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a new Redis session store
func NewRedisSessionStore(client *redis.Client, logger *zap.Logger) SessionStore {
	return &RedisSessionStore{
		client: client,
		logger: logger,
	}
}

// Get returns a point-in-time snapshot of the session
func (s *RedisSessionStore) Get(ctx context.Context, tenantID, sessionID string) (*model.SessionSnapshot, error) {
	pipe := s.client.Pipeline()
	ttlCmd := pipe.HGet(ctx, sessionKey(tenantID, sessionID), "ttl")
	membersCmd := pipe.SMembers(ctx, sessionConnsKey(tenantID, sessionID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read session %s/%s: %w", tenantID, sessionID, err)
	}

	if ttlCmd.Err() == redis.Nil {
		return nil, ErrNotFound
	}
	expiresAt, err := strconv.ParseInt(ttlCmd.Val(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed session expiry for %s/%s: %w", tenantID, sessionID, err)
	}

	return &model.SessionSnapshot{
		TenantID:      tenantID,
		SessionID:     sessionID,
		ConnectionIDs: membersCmd.Val(),
		ExpiresAt:     expiresAt,
	}, nil
}

// Put creates the session or refreshes its expiry
func (s *RedisSessionStore) Put(ctx context.Context, tenantID, sessionID string, expiresAt int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(tenantID, sessionID), "ttl", expiresAt)
		pipe.ZAdd(ctx, expiryIndexKey, redis.Z{
			Score:  float64(expiresAt),
			Member: expiryMember(tenantID, sessionID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put session %s/%s: %w", tenantID, sessionID, err)
	}
	return nil
}

// AddConnection adds the connection and increments the tenant counter in
// one transaction, returning the pre-mutation connection set.
func (s *RedisSessionStore) AddConnection(ctx context.Context, tenantID, sessionID, connectionID string, expiresAt int64) ([]string, error) {
	keys := []string{
		sessionConnsKey(tenantID, sessionID),
		sessionKey(tenantID, sessionID),
		expiryIndexKey,
		limitKey(tenantID),
	}
	old, err := addConnectionScript.Run(ctx, s.client, keys,
		connectionID, expiresAt, expiryMember(tenantID, sessionID)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to add connection %s to %s/%s: %w", connectionID, tenantID, sessionID, err)
	}
	return old, nil
}

// RemoveConnection removes the connection and decrements the tenant
// counter in one transaction. No-op when the id is not a member.
func (s *RedisSessionStore) RemoveConnection(ctx context.Context, tenantID, sessionID, connectionID string) error {
	keys := []string{
		sessionConnsKey(tenantID, sessionID),
		limitKey(tenantID),
	}
	if err := removeConnectionScript.Run(ctx, s.client, keys, connectionID).Err(); err != nil {
		return fmt.Errorf("failed to remove connection %s from %s/%s: %w", connectionID, tenantID, sessionID, err)
	}
	return nil
}

// RefreshTTL moves the session expiry and returns the connection set
// captured by the same atomic step.
func (s *RedisSessionStore) RefreshTTL(ctx context.Context, tenantID, sessionID string, expiresAt int64) ([]string, error) {
	keys := []string{
		sessionConnsKey(tenantID, sessionID),
		sessionKey(tenantID, sessionID),
		expiryIndexKey,
	}
	members, err := refreshTTLScript.Run(ctx, s.client, keys,
		expiresAt, expiryMember(tenantID, sessionID)).StringSlice()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session %s/%s: %w", tenantID, sessionID, err)
	}
	return members, nil
}

// Delete removes the session and returns the prior connection set
func (s *RedisSessionStore) Delete(ctx context.Context, tenantID, sessionID string) ([]string, error) {
	keys := []string{
		sessionConnsKey(tenantID, sessionID),
		sessionKey(tenantID, sessionID),
		expiryIndexKey,
		limitKey(tenantID),
	}
	members, err := deleteScript.Run(ctx, s.client, keys, expiryMember(tenantID, sessionID)).StringSlice()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete session %s/%s: %w", tenantID, sessionID, err)
	}
	return members, nil
}

// Expire removes the session if its expiry is still at or before cutoff
func (s *RedisSessionStore) Expire(ctx context.Context, tenantID, sessionID string, cutoff int64) ([]string, error) {
	keys := []string{
		sessionConnsKey(tenantID, sessionID),
		sessionKey(tenantID, sessionID),
		expiryIndexKey,
		limitKey(tenantID),
	}
	members, err := expireScript.Run(ctx, s.client, keys,
		cutoff, expiryMember(tenantID, sessionID)).StringSlice()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to expire session %s/%s: %w", tenantID, sessionID, err)
	}
	return members, nil
}

// DueSessions lists sessions whose expiry is at or before cutoff
func (s *RedisSessionStore) DueSessions(ctx context.Context, cutoff, limit int64) ([]SessionRef, error) {
	members, err := s.client.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff, 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiry index: %w", err)
	}

	refs := make([]SessionRef, 0, len(members))
	for _, member := range members {
		tenantID, sessionID, ok := parseExpiryMember(member)
		if !ok {
			s.logger.Warn("Dropping malformed expiry index member",
				zap.String("member", member))
			s.client.ZRem(ctx, expiryIndexKey, member)
			continue
		}
		refs = append(refs, SessionRef{TenantID: tenantID, SessionID: sessionID})
	}
	return refs, nil
}

// Ping checks the Redis connection
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
