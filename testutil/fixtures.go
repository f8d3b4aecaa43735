// =============================================================================
// 🏭 领域测试夹具
// =============================================================================
// 提供账户与分组的测试构造器，默认值为一个立即可调度的共享账户
//
// 使用方法:
//
//	acct := testutil.Account("acc-1", scheduler.PlatformClaude)
//	acct := testutil.Account("acc-2", scheduler.PlatformClaude,
//	    testutil.WithStrategy(scheduler.StrategyRoundRobin),
//	    testutil.WithPriority(10))
// =============================================================================
package testutil

import (
	"time"

	"github.com/tensorgate/relaypool/scheduler"
)

// AccountOption 覆盖测试账户的单个字段
type AccountOption func(*scheduler.Account)

// Account 构造一个可调度的测试账户
func Account(id string, platform scheduler.Platform, opts ...AccountOption) *scheduler.Account {
	acct := &scheduler.Account{
		ID:          id,
		Platform:    platform,
		Name:        "account " + id,
		IsActive:    true,
		Schedulable: true,
		Priority:    50,
		Weight:      1,
	}
	for _, opt := range opts {
		opt(acct)
	}
	return acct
}

// WithStrategy 设置账户级策略
func WithStrategy(s scheduler.Strategy) AccountOption {
	return func(a *scheduler.Account) { a.Strategy = s }
}

// WithPriority 设置优先级（数字越小越先被考察）
func WithPriority(p int) AccountOption {
	return func(a *scheduler.Account) { a.Priority = p }
}

// WithWeight 设置加权随机权重
func WithWeight(w float64) AccountOption {
	return func(a *scheduler.Account) { a.Weight = w }
}

// WithOwnership 设置归属类型
func WithOwnership(o scheduler.Ownership) AccountOption {
	return func(a *scheduler.Account) { a.Ownership = o }
}

// WithModels 限定支持的模型列表
func WithModels(models ...string) AccountOption {
	return func(a *scheduler.Account) { a.SupportedModels = scheduler.StringList(models) }
}

// WithSequentialOrder 设置 sequential 策略的固定顺位
func WithSequentialOrder(n int) AccountOption {
	return func(a *scheduler.Account) { a.SequentialOrder = n }
}

// WithUsageCount 设置持久使用计数
func WithUsageCount(n int64) AccountOption {
	return func(a *scheduler.Account) { a.UsageCount = n }
}

// Unavailable 将账户标记为不可调度
func Unavailable() AccountOption {
	return func(a *scheduler.Account) { a.IsActive = false }
}

// RateLimitedAt 将账户标记为在指定时刻进入限流冷却
func RateLimitedAt(at time.Time) AccountOption {
	return func(a *scheduler.Account) {
		a.RateLimitStatus = scheduler.RateLimitLimited
		a.RateLimitedAt = &at
	}
}

// Group 构造一个测试分组
func Group(id string, platform scheduler.Platform, strategy scheduler.Strategy) *scheduler.Group {
	return &scheduler.Group{
		ID:       id,
		Name:     "group " + id,
		Platform: platform,
		Strategy: strategy,
	}
}
