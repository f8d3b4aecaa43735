package scheduler

import (
	"context"
	"time"
)

// AccountStore 账号存储接口
type AccountStore interface {
	// Get 按 ID 获取账号，未找到返回 (nil, nil)
	Get(ctx context.Context, id string) (*Account, error)
	// ListByPlatform 列出指定平台的全部账号
	ListByPlatform(ctx context.Context, platform Platform) ([]*Account, error)
	// UpdateUsage 累加账号使用计数
	UpdateUsage(ctx context.Context, id string, delta int64) error
	// SetLastUsed 更新账号最近使用时间
	SetLastUsed(ctx context.Context, id string, ts time.Time) error
	// GetRateLimit 读取账号限流状态
	GetRateLimit(ctx context.Context, id string) (RateLimitStatus, *time.Time, error)
	// SetRateLimit 写入账号限流状态
	SetRateLimit(ctx context.Context, id string, status RateLimitStatus, at *time.Time) error
}

// GroupStore 分组存储接口
type GroupStore interface {
	// GetGroup 按 ID 获取分组，未找到返回 (nil, nil)
	GetGroup(ctx context.Context, id string) (*Group, error)
	// ListMembers 按 Position 升序列出分组内账号
	ListMembers(ctx context.Context, groupID string) ([]*Account, error)
}

// SessionStore 会话粘滞映射存储接口
type SessionStore interface {
	// Get 查询会话映射，未命中返回 (nil, nil)
	Get(ctx context.Context, sessionHash string) (*SessionMapping, error)
	// Set 写入会话映射并重置 TTL
	Set(ctx context.Context, mapping *SessionMapping, ttl time.Duration) error
	// Delete 删除会话映射，不存在时不报错
	Delete(ctx context.Context, sessionHash string) error
}

// CursorStore 轮询游标存储接口
type CursorStore interface {
	// Next 原子推进游标并返回 [0, modulo) 内的序号
	Next(ctx context.Context, key string, modulo int) (int, error)
}

// UsageStore 使用量计数存储接口
type UsageStore interface {
	// Bump 递增账号的滚动使用计数
	Bump(ctx context.Context, accountID string) error
	// Counts 批量读取使用计数，缺失的账号计为 0
	Counts(ctx context.Context, accountIDs []string) (map[string]int64, error)
}
