package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loongquant/loong/internal/common"
)

// Cache tiers. TierL1 keys live only in the in-process LRU; TierL2 keys
// live in Redis with an L1 read-through copy.
const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// policy is the resolved caching rule for one key prefix.
type policy struct {
	tier string
	ttl  time.Duration
}

// Manager routes reads and writes across the two cache tiers according to
// the configured per-prefix policies. A nil Redis tier degrades every
// policy to L1 only.
type Manager struct {
	lru      *LRU
	redis    *RedisTier
	policies map[string]policy
	logger   *common.Logger
}

// NewManager builds the cache manager from config. redisTier may be nil
// when Redis is not configured.
func NewManager(cfg common.CacheConfig, redisTier *RedisTier, logger *common.Logger) *Manager {
	policies := make(map[string]policy, len(cfg.Policies))
	for prefix, pc := range cfg.Policies {
		tier := pc.Tier
		if tier != TierL2 {
			tier = TierL1
		}
		ttl := time.Duration(pc.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		policies[prefix] = policy{tier: tier, ttl: ttl}
	}

	return &Manager{
		lru:      NewLRU(DefaultLRUCapacity),
		redis:    redisTier,
		policies: policies,
		logger:   logger,
	}
}

// Key builds a stable cache key from the prefix and request parameters.
// Params are serialized to JSON and hashed so equivalent requests share
// one key.
func Key(prefix string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha1.Sum(raw)
	return "loong:" + prefix + ":" + hex.EncodeToString(sum[:])
}

func (m *Manager) policyFor(prefix string) policy {
	if p, ok := m.policies[prefix]; ok {
		return p
	}
	return policy{tier: TierL1, ttl: 5 * time.Minute}
}

// Get looks a key up, L1 first. An L2 hit is promoted into L1 with the
// policy TTL so the next read is local.
func (m *Manager) Get(ctx context.Context, prefix, key string) ([]byte, bool) {
	if val, ok := m.lru.Get(key); ok {
		return val, true
	}

	p := m.policyFor(prefix)
	if p.tier != TierL2 || m.redis == nil {
		return nil, false
	}

	val, ok, err := m.redis.Get(ctx, key)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed, treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	m.lru.Set(key, val, p.ttl)
	return val, true
}

// Set stores a value under the prefix's policy.
func (m *Manager) Set(ctx context.Context, prefix, key string, value []byte) {
	p := m.policyFor(prefix)
	m.lru.Set(key, value, p.ttl)

	if p.tier == TierL2 && m.redis != nil {
		if err := m.redis.Set(ctx, key, value, p.ttl); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Redis write failed")
		}
	}
}

// GetJSON unmarshals a cached value into out.
func (m *Manager) GetJSON(ctx context.Context, prefix, key string, out any) bool {
	val, ok := m.Get(ctx, prefix, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, out); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, dropping")
		m.lru.Delete(key)
		return false
	}
	return true
}

// SetJSON marshals v and stores it under the prefix's policy.
func (m *Manager) SetJSON(ctx context.Context, prefix, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache marshal failed")
		return
	}
	m.Set(ctx, prefix, key, raw)
}

// InvalidatePrefix drops every key under "loong:<prefix>:" in both tiers.
// Called after sync runs so readers never see stale documents.
func (m *Manager) InvalidatePrefix(ctx context.Context, prefix string) {
	full := "loong:" + prefix + ":"
	removed := m.lru.InvalidatePrefix(full)

	if m.redis != nil {
		redisRemoved, err := m.redis.InvalidatePrefix(ctx, full)
		if err != nil {
			m.logger.Warn().Err(err).Str("prefix", prefix).Msg("Redis invalidation failed")
		}
		removed += redisRemoved
	}

	if removed > 0 {
		m.logger.Debug().Str("prefix", prefix).Int("removed", removed).Msg("Cache invalidated")
	}
}

// Stats returns L1 hit and miss counts.
func (m *Manager) Stats() (hits, misses int64) {
	return m.lru.Stats()
}
