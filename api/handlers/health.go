package handlers

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 探活与就绪
// =============================================================================

// HealthHandler 聚合存活、就绪与版本三类端点
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// readyProbeTimeout 限制一次就绪探测的总耗时，覆盖最慢的依赖
const readyProbeTimeout = 5 * time.Second

// HealthCheck 就绪检查探测的依赖接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /health 与 /ready 的响应体
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy 或 unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 一项依赖探测的结论
type CheckResult struct {
	Status  string `json:"status"` // pass 或 fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 构造尚未注册任何检查的处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// RegisterCheck 追加一项就绪检查，启动期间任意阶段都可调用
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 端点实现
// =============================================================================

// HandleHealth 无依赖探活，进程在服务即返回 200
// @Summary 存活探测
// @Description 无依赖探活端点，进程存活即返回 200
// @Tags 运维
// @Produce json
// @Success 200 {object} HealthStatus "进程存活"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes liveness 探针）。
// 活跃度只确认进程在服务，不探测下游依赖。
// @Summary Liveness 探针
// @Description 等价于 /health，供 liveness 探针使用
// @Tags 运维
// @Produce json
// @Success 200 {object} HealthStatus "进程在服务"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并发探测全部已注册依赖并汇总为就绪结论
// @Summary 就绪探测
// @Description 并发探测所有已注册依赖，任一失败即 503
// @Tags 运维
// @Produce json
// @Success 200 {object} HealthStatus "全部依赖通过"
// @Failure 503 {object} HealthStatus "存在失败的依赖"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	type checkOutcome struct {
		name   string
		result CheckResult
		failed bool
	}

	// 并发执行所有检查，整体耗时取决于最慢的依赖而不是依赖数量
	outcomes := make([]checkOutcome, len(checks))
	g, gctx := errgroup.WithContext(ctx)

	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(gctx)
			latency := time.Since(start)

			outcome := checkOutcome{
				name:   check.Name(),
				result: CheckResult{Status: "pass", Latency: latency.String()},
			}

			if err != nil {
				outcome.result.Status = "fail"
				outcome.result.Message = err.Error()
				outcome.failed = true

				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}

			outcomes[i] = outcome
			return nil // 不让 errgroup 提前终止，我们自己收集所有结果
		})
	}

	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(outcomes)),
	}

	degraded := false
	for _, outcome := range outcomes {
		status.Checks[outcome.name] = outcome.result
		degraded = degraded || outcome.failed
	}

	if degraded {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// BuildInfo 编译期经 -ldflags 注入的三个构建字段
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// HandleVersion 返回编译期注入的构建信息
// @Summary 构建版本
// @Description 返回构建版本、构建时间与 Git 提交
// @Tags 运维
// @Produce json
// @Success 200 {object} BuildInfo "构建信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := BuildInfo{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 检查适配器
// =============================================================================

// PingCheck 将探活函数适配为 HealthCheck。
// 数据库、Redis 等依赖只要暴露 Ping(ctx) 即可注册。
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 包装一个探活函数
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
