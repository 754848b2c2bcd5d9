package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/awolfe89/sds-shopify/internal/crypto"
	"github.com/awolfe89/sds-shopify/internal/domain"
	"github.com/awolfe89/sds-shopify/internal/repository"
)

const handshakePrefix = "auth:handshake:"

// RedisHandshakeStore implements repository.HandshakeStore backed by Redis.
// Consume relies on GETDEL for its at-most-once guarantee and expiry is
// handled by key TTLs rather than the janitor sweep.
type RedisHandshakeStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ repository.HandshakeStore = (*RedisHandshakeStore)(nil)

// NewRedisHandshakeStore constructs a Redis-backed handshake store.
func NewRedisHandshakeStore(client redis.UniversalClient, ttl time.Duration) *RedisHandshakeStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisHandshakeStore{client: client, ttl: ttl}
}

func handshakeKey(tenantDomain, stateNonce string) string {
	return handshakePrefix + tenantDomain + ":" + stateNonce
}

// attachScript rewrites a pending handshake in place. Setting only while the
// key still exists keeps a late AttachVerifier from resurrecting a consumed
// state, and KEEPTTL leaves the original expiry window intact.
var attachScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "KEEPTTL")
return 1
`)

func (s *RedisHandshakeStore) Create(ctx context.Context, tenantDomain, verifier string) (domain.HandshakeState, error) {
	nonce, err := crypto.GenerateStateNonce()
	if err != nil {
		return domain.HandshakeState{}, fmt.Errorf("create handshake: %w", err)
	}
	now := time.Now().UTC()
	state := domain.HandshakeState{
		StateNonce:   nonce,
		TenantDomain: tenantDomain,
		CodeVerifier: verifier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.save(ctx, state); err != nil {
		return domain.HandshakeState{}, err
	}
	return state, nil
}

func (s *RedisHandshakeStore) AttachVerifier(ctx context.Context, tenantDomain, stateNonce, verifier string) error {
	key := handshakeKey(tenantDomain, stateNonce)
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("load handshake: %w", err)
	}
	var state domain.HandshakeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if state.CodeVerifier == verifier {
		return nil
	}
	state.CodeVerifier = verifier
	state.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	stored, err := attachScript.Run(ctx, s.client, []string{key}, updated).Int()
	if err != nil {
		return fmt.Errorf("persist handshake: %w", err)
	}
	if stored == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func (s *RedisHandshakeStore) Consume(ctx context.Context, tenantDomain, stateNonce string) (domain.HandshakeState, error) {
	payload, err := s.client.GetDel(ctx, handshakeKey(tenantDomain, stateNonce)).Bytes()
	if err == redis.Nil {
		return domain.HandshakeState{}, domain.ErrInvalidState
	}
	if err != nil {
		return domain.HandshakeState{}, fmt.Errorf("consume handshake: %w", err)
	}
	var state domain.HandshakeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return domain.HandshakeState{}, fmt.Errorf("decode handshake: %w", err)
	}
	return state, nil
}

// SweepExpired is a no-op for the Redis store: entries carry a TTL and Redis
// evicts them itself.
func (s *RedisHandshakeStore) SweepExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *RedisHandshakeStore) save(ctx context.Context, state domain.HandshakeState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	key := handshakeKey(state.TenantDomain, state.StateNonce)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist handshake: %w", err)
	}
	return nil
}
