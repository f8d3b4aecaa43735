package scheduler

import "time"

// =============================================================================
// 📊 调度指标
// =============================================================================

// 指标标签取值。
const (
	outcomeSelected   = "selected"   // 成功选出账号
	outcomeNoAccounts = "no_accounts" // 无可用账号
	outcomeError      = "error"      // 存储或参数错误

	stickyHit   = "hit"   // 粘性映射命中且账号可用
	stickyMiss  = "miss"  // 无粘性映射
	stickyStale = "stale" // 映射存在但账号已不可用

	rateLimitMark  = "mark"
	rateLimitClear = "clear"
)

// MetricsRecorder 接收调度器产生的指标事件。
// internal/metrics.Collector 实现了该接口；测试可注入桩实现。
type MetricsRecorder interface {
	RecordSelection(platform, strategy, outcome string, duration time.Duration, poolSize int)
	RecordStickyLookup(result string)
	RecordStrategyFallback(platform, strategy string)
	RecordRateLimitEvent(platform, action string)
}

// nopMetrics 未配置收集器时的空实现。
type nopMetrics struct{}

func (nopMetrics) RecordSelection(string, string, string, time.Duration, int) {}
func (nopMetrics) RecordStickyLookup(string)                                  {}
func (nopMetrics) RecordStrategyFallback(string, string)                      {}
func (nopMetrics) RecordRateLimitEvent(string, string)                        {}
