package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// 🚦 限流追踪器
// =============================================================================

// RateLimitTracker 维护账号的限流冷却状态。
// 冷却窗口固定一小时，过期账号在读取时按需恢复，不做后台清扫。
type RateLimitTracker struct {
	accounts AccountStore
	sessions SessionStore
	clock    Clock
	logger   *zap.Logger
}

// NewRateLimitTracker 创建限流追踪器
func NewRateLimitTracker(accounts AccountStore, sessions SessionStore, clock Clock, logger *zap.Logger) *RateLimitTracker {
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimitTracker{
		accounts: accounts,
		sessions: sessions,
		clock:    clock,
		logger:   logger.With(zap.String("component", "ratelimit")),
	}
}

// MarkLimited 标记账号限流并重置冷却起点。
// 幂等：重复标记只是刷新时间戳。附带 sessionHash 时删除其粘滞映射，
// 让后续请求立即改道。账号不存在时静默成功。
func (t *RateLimitTracker) MarkLimited(ctx context.Context, accountID, sessionHash string) error {
	now := t.clock.Now()
	if err := t.accounts.SetRateLimit(ctx, accountID, RateLimitLimited, &now); err != nil {
		return storeUnavailable("mark rate limit", err)
	}

	t.logger.Warn("account rate limited",
		zap.String("account_id", accountID),
		zap.Time("limited_at", now),
	)

	if sessionHash != "" && t.sessions != nil {
		if err := t.sessions.Delete(ctx, sessionHash); err != nil {
			// 粘滞校验会兜底拦截限流账号，映射删除失败不阻断标记
			t.logger.Warn("failed to drop session mapping for limited account",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// ClearLimited 手工解除账号限流。幂等，账号不存在时静默成功。
func (t *RateLimitTracker) ClearLimited(ctx context.Context, accountID string) error {
	if err := t.accounts.SetRateLimit(ctx, accountID, RateLimitOK, nil); err != nil {
		return storeUnavailable("clear rate limit", err)
	}

	t.logger.Info("account rate limit cleared", zap.String("account_id", accountID))
	return nil
}

// IsLimited 判断账号当前是否处于冷却窗口内。
// 窗口自然过期后返回 false，但不回写状态字段（惰性恢复）。
func (t *RateLimitTracker) IsLimited(ctx context.Context, accountID string) (bool, error) {
	status, at, err := t.accounts.GetRateLimit(ctx, accountID)
	if err != nil {
		return false, storeUnavailable("read rate limit", err)
	}
	if status != RateLimitLimited || at == nil {
		return false, nil
	}
	return t.clock.Now().Before(at.Add(RateLimitCooldown)), nil
}
