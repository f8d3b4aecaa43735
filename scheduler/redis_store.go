package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/cache"
)

// =============================================================================
// 💾 Redis 存储实现
// =============================================================================
//
// 键空间布局：
//   relaypool:session:<hash>                               会话粘滞映射（JSON，TTL 1h）
//   relaypool:cursor:<scope>:<strategy>:<platform>:<tier>  轮询游标（计数器，TTL 30d）
//   relaypool:usage:<accountID>                            使用量计数（计数器，TTL 30d 滚动）

const (
	sessionKeyPrefix = "relaypool:session:"
	cursorKeyPrefix  = "relaypool:cursor:"
	usageKeyPrefix   = "relaypool:usage:"
)

// RedisSessionStore 基于 Redis 的会话粘滞存储
type RedisSessionStore struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewRedisSessionStore 创建会话粘滞存储
func NewRedisSessionStore(c *cache.Manager, logger *zap.Logger) *RedisSessionStore {
	return &RedisSessionStore{
		cache:  c,
		logger: logger.With(zap.String("component", "session_store")),
	}
}

// Get 查询会话映射，未命中返回 (nil, nil)
func (s *RedisSessionStore) Get(ctx context.Context, sessionHash string) (*SessionMapping, error) {
	var mapping SessionMapping
	err := s.cache.GetJSON(ctx, sessionKeyPrefix+sessionHash, &mapping)
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get failed: %w", err)
	}
	return &mapping, nil
}

// Set 写入会话映射并重置 TTL
func (s *RedisSessionStore) Set(ctx context.Context, mapping *SessionMapping, ttl time.Duration) error {
	if mapping == nil || mapping.SessionHash == "" {
		return fmt.Errorf("session mapping requires a session hash")
	}
	if ttl <= 0 {
		ttl = SessionTTL
	}
	if err := s.cache.SetJSON(ctx, sessionKeyPrefix+mapping.SessionHash, mapping, ttl); err != nil {
		return fmt.Errorf("session set failed: %w", err)
	}
	return nil
}

// Delete 删除会话映射，键不存在时静默成功
func (s *RedisSessionStore) Delete(ctx context.Context, sessionHash string) error {
	if err := s.cache.Delete(ctx, sessionKeyPrefix+sessionHash); err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	return nil
}

// RedisCursorStore 基于 Redis INCR 的轮询游标存储
type RedisCursorStore struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewRedisCursorStore 创建游标存储
func NewRedisCursorStore(c *cache.Manager, logger *zap.Logger) *RedisCursorStore {
	return &RedisCursorStore{
		cache:  c,
		logger: logger.With(zap.String("component", "cursor_store")),
	}
}

// Next 原子推进游标并返回 [0, modulo) 内的序号。
// INCR 返回 1 起始的新值，减一取模得到本次下标；候选集大小变化时
// 取模自然回绕，游标无需重置。
func (s *RedisCursorStore) Next(ctx context.Context, key string, modulo int) (int, error) {
	if modulo <= 0 {
		return 0, fmt.Errorf("cursor modulo must be positive, got %d", modulo)
	}
	val, err := s.cache.Incr(ctx, cursorKeyPrefix+key, CursorTTL)
	if err != nil {
		return 0, fmt.Errorf("cursor advance failed: %w", err)
	}
	return int((val - 1) % int64(modulo)), nil
}

// RedisUsageStore 基于 Redis 的滚动使用量计数存储
type RedisUsageStore struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewRedisUsageStore 创建使用量计数存储
func NewRedisUsageStore(c *cache.Manager, logger *zap.Logger) *RedisUsageStore {
	return &RedisUsageStore{
		cache:  c,
		logger: logger.With(zap.String("component", "usage_store")),
	}
}

// Bump 递增账号使用计数并刷新滚动窗口
func (s *RedisUsageStore) Bump(ctx context.Context, accountID string) error {
	if _, err := s.cache.Incr(ctx, usageKeyPrefix+accountID, UsageCounterWindow); err != nil {
		return fmt.Errorf("usage bump failed: %w", err)
	}
	return nil
}

// Counts 批量读取使用计数，缺失的账号计为 0
func (s *RedisUsageStore) Counts(ctx context.Context, accountIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(accountIDs))
	if len(accountIDs) == 0 {
		return counts, nil
	}

	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = usageKeyPrefix + id
	}

	vals, err := s.cache.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("usage counts failed: %w", err)
	}

	for i, id := range accountIDs {
		counts[id] = 0
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("malformed usage counter",
				zap.String("account_id", id),
				zap.String("value", raw),
			)
			continue
		}
		counts[id] = n
	}

	return counts, nil
}
