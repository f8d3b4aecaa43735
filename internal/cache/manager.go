package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 接入
// =============================================================================

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 管理器已关闭后继续调用
var ErrClosed = errors.New("cache manager is closed")

// IsCacheMiss 报告 err 是否表示键不存在
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Manager 承载调度核心的三类 Redis 状态：
// 会话粘滞映射、轮询游标与使用量计数。
// 所有方法在 Close 之后返回 ErrClosed。
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	closed atomic.Bool
	done   chan struct{}
}

// Config Redis 连接与默认过期参数
type Config struct {
	Addr                string        // Redis 地址（host:port）
	Password            string        // 密码，为空表示无认证
	DB                  int           // 逻辑库编号
	DefaultTTL          time.Duration // Set 未指定 TTL 时的默认过期时间
	MaxRetries          int           // 单次命令的最大重试次数
	PoolSize            int           // 连接池上限
	MinIdleConns        int           // 保活的最小空闲连接数
	TLSEnabled          bool          // 是否启用 TLS（托管 Redis 服务通常要求）
	HealthCheckInterval time.Duration // 健康检查间隔，<= 0 时不启动后台探活
}

// DefaultConfig 本地开发可直接使用的 Redis 参数
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          10 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: time.Minute,
	}
}

// probeTimeout 限制单次连通性探测的耗时
const probeTimeout = 5 * time.Second

// NewManager 建立 Redis 连接并验证连通性
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLSEnabled {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("pool", config.PoolSize),
	)

	return m, nil
}

// =============================================================================
// 🎯 读写操作
// =============================================================================

// Get 读取字符串值，键不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}

	val, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set 写入字符串值，ttl 为 0 时使用 DefaultTTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetJSON 读取并反序列化 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("decode cached value: %w", err)
	}
	return nil
}

// SetJSON 序列化后写入 JSON 值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除一个或多个键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("redis del failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Incr 原子递增计数器并刷新过期时间，返回递增后的值。
// INCR 与 EXPIRE 通过 pipeline 合并为一次往返。
func (m *Manager) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	pipe := m.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("redis incr failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return incr.Val(), nil
}

// MGet 批量读取，缺失的键对应 nil
func (m *Manager) MGet(ctx context.Context, keys ...string) ([]any, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := m.redis.MGet(ctx, keys...).Result()
	if err != nil {
		m.logger.Error("redis mget failed", zap.Int("keys", len(keys)), zap.Error(err))
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	return vals, nil
}

// Ping 探测 Redis 连通性，就绪检查复用
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.redis.Ping(ctx).Err()
}

// Close 停止健康检查并释放 Redis 连接，重复调用安全
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(m.done)
	m.logger.Info("closing redis client")
	return m.redis.Close()
}

// =============================================================================
// 🏥 后台探活
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			if err := m.redis.Ping(ctx).Err(); err != nil {
				m.logger.Error("redis ping failed", zap.Error(err))
			} else {
				m.logger.Debug("redis ping ok")
			}
			cancel()
		}
	}
}
