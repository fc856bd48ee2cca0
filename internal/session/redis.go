package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_storefront/internal/domain"
)

var ErrEmptyIntent = errors.New("intent has no positive-quantity lines")

// TTL bounds how long untouched browsing-session state survives.
const TTL = 24 * time.Hour

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    TTL,
	}
}

// RedisStore keeps session state in redis under session-scoped keys. Reads
// never fail past the public API: any transport or decode problem resolves to
// the absent state so callers need no defensive handling.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *RedisStore) GrantGate(ctx context.Context, sessionID string) error {
	if err := s.client.Set(ctx, gateKey(sessionID), string(domain.GateStatusGated), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkInCheckout(ctx context.Context, sessionID string) error {
	if err := s.client.Set(ctx, gateKey(sessionID), string(domain.GateStatusInCheckout), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) GateStatus(ctx context.Context, sessionID string) domain.GateStatus {
	val, err := s.client.Get(ctx, gateKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.GateStatusNone
	}
	if err != nil {
		log.Printf("gate status read error: %v", err)
		return domain.GateStatusNone
	}

	switch status := domain.GateStatus(val); status {
	case domain.GateStatusGated, domain.GateStatusInCheckout:
		return status
	default:
		return domain.GateStatusNone
	}
}

func (s *RedisStore) HasGate(ctx context.Context, sessionID string) bool {
	return s.GateStatus(ctx, sessionID) != domain.GateStatusNone
}

func (s *RedisStore) RevokeGate(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, gateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) SetIntent(ctx context.Context, sessionID string, items []domain.Line) error {
	intent := domain.NewIntent(items)
	if intent == nil {
		return ErrEmptyIntent
	}

	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent failed: %w", err)
	}
	if err := s.client.Set(ctx, intentKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetIntent re-validates the stored shape on every read. Malformed stored
// data is treated as absent and purged, never returned as an error.
func (s *RedisStore) GetIntent(ctx context.Context, sessionID string) *domain.Intent {
	data, err := s.client.Get(ctx, intentKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		log.Printf("intent read error: %v", err)
		return nil
	}

	intent, ok := domain.DecodeIntent(data)
	if !ok {
		if errDel := s.client.Del(ctx, intentKey(sessionID)).Err(); errDel != nil {
			log.Printf("purge of malformed intent failed: %v", errDel)
		}
		return nil
	}
	return intent
}

func (s *RedisStore) ClearIntent(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, intentKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) SetPromo(ctx context.Context, sessionID, productID, code string) error {
	key := promoKey(sessionID)
	if err := s.client.HSet(ctx, key, productID, code).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Promos(ctx context.Context, sessionID string) map[string]string {
	codes, err := s.client.HGetAll(ctx, promoKey(sessionID)).Result()
	if err != nil {
		log.Printf("promo read error: %v", err)
		return map[string]string{}
	}
	return codes
}

func gateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:gate", sessionID)
}

func intentKey(sessionID string) string {
	return fmt.Sprintf("session:%s:intent", sessionID)
}

func promoKey(sessionID string) string {
	return fmt.Sprintf("session:%s:promo", sessionID)
}
