package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/pool"
)

// =============================================================================
// 🎯 选择编排器
// =============================================================================

// usageUpdateTimeout 异步使用量更新的超时
const usageUpdateTimeout = 5 * time.Second

// DefaultSelectionTimeout 策略存储调用的默认软预算
const DefaultSelectionTimeout = 50 * time.Millisecond

// Stores 捆绑调度器依赖的全部存储
type Stores struct {
	Accounts AccountStore
	Groups   GroupStore
	Sessions SessionStore
	Cursors  CursorStore
	Usage    UsageStore
}

// Option 配置 Service 的可选项
type Option func(*serviceOptions)

type serviceOptions struct {
	logger           *zap.Logger
	clock            Clock
	metrics          MetricsRecorder
	strictDedicated  bool
	sessionTTL       time.Duration
	selectionTimeout time.Duration
}

// WithLogger 注入日志器
func WithLogger(logger *zap.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithClock 注入时钟（测试用固定时钟）
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithMetrics 注入指标收集器
func WithMetrics(m MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithStrictDedicatedBinding 设置专属绑定严格模式。
// 关闭后专属账户不可用时回落共享池而不是报错。
func WithStrictDedicatedBinding(strict bool) Option {
	return func(o *serviceOptions) { o.strictDedicated = strict }
}

// WithSessionTTL 覆盖会话亲和映射的存活时间
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) { o.sessionTTL = ttl }
}

// WithSelectionTimeout 覆盖策略存储调用的软预算。
// 超时不会使选择失败，只触发 least_recent 降级。
func WithSelectionTimeout(d time.Duration) Option {
	return func(o *serviceOptions) { o.selectionTimeout = d }
}

// serviceStats 进程内选择统计（原子计数）
type serviceStats struct {
	total      atomic.Int64
	stickyHits atomic.Int64
	fallbacks  atomic.Int64
	noAccounts atomic.Int64
	errors     atomic.Int64
	byStrategy map[Strategy]*atomic.Int64 // 构造后只读
}

// SelectionStats 选择统计快照
type SelectionStats struct {
	// Total 收到的选择请求总数（含失败）
	Total int64 `json:"total"`
	// StickyHits 会话亲和短路次数
	StickyHits int64 `json:"sticky_hits"`
	// Fallbacks 策略降级次数（游标或计数存储故障）
	Fallbacks int64 `json:"fallbacks"`
	// NoAccounts 无可用账号的失败次数
	NoAccounts int64 `json:"no_accounts"`
	// Errors 其余失败次数（参数错误、绑定错误、存储故障）
	Errors int64 `json:"errors"`
	// ByStrategy 各策略的成功选择次数。
	// 专属绑定与会话命中不计入（没有策略参与）。
	ByStrategy map[Strategy]int64 `json:"by_strategy"`
}

// Service 账户选择服务。
// 编排候选解析、会话亲和、策略排序与限流标记，
// 所有依赖显式注入，无全局状态。
type Service struct {
	accounts AccountStore
	sessions SessionStore
	usage    UsageStore

	resolver   *Resolver
	dispatcher *Dispatcher
	tracker    *RateLimitTracker

	clock   Clock
	logger  *zap.Logger
	metrics MetricsRecorder

	sessionTTL       time.Duration
	selectionTimeout time.Duration

	stats serviceStats

	// bumps 有界执行异步使用量更新，Close 时排空队列
	bumps *pool.WorkerPool
}

// NewService 创建账户选择服务。
// 五类存储均为必需；logger 缺省为 zap.NewNop，时钟缺省为系统时钟，
// 专属绑定默认严格模式。
func NewService(stores Stores, opts ...Option) (*Service, error) {
	if stores.Accounts == nil || stores.Groups == nil || stores.Sessions == nil ||
		stores.Cursors == nil || stores.Usage == nil {
		return nil, fmt.Errorf("scheduler: all stores are required")
	}

	o := serviceOptions{
		strictDedicated:  true,
		sessionTTL:       SessionTTL,
		selectionTimeout: DefaultSelectionTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.sessionTTL <= 0 {
		o.sessionTTL = SessionTTL
	}
	if o.selectionTimeout <= 0 {
		o.selectionTimeout = DefaultSelectionTimeout
	}

	logger := o.logger.With(zap.String("component", "scheduler"))

	// 使用量更新走有界任务池；满载时丢弃并告警，不阻塞选择热路径
	bumpCfg := pool.DefaultConfig()
	bumpCfg.PanicHandler = func(r any) {
		logger.Error("usage update panicked", zap.Any("panic", r))
	}

	s := &Service{
		accounts:         stores.Accounts,
		sessions:         stores.Sessions,
		usage:            stores.Usage,
		resolver:         NewResolver(stores.Accounts, stores.Groups, o.clock, o.strictDedicated, o.logger),
		dispatcher:       NewDispatcher(stores.Cursors, stores.Usage, o.logger),
		tracker:          NewRateLimitTracker(stores.Accounts, stores.Sessions, o.clock, o.logger),
		clock:            o.clock,
		logger:           logger,
		metrics:          o.metrics,
		sessionTTL:       o.sessionTTL,
		selectionTimeout: o.selectionTimeout,
		bumps:            pool.New(bumpCfg),
	}
	s.stats.byStrategy = make(map[Strategy]*atomic.Int64, len(AllStrategies))
	for _, strat := range AllStrategies {
		s.stats.byStrategy[strat] = &atomic.Int64{}
	}
	return s, nil
}

// Select 为一次入站请求选出账户。
// 顺序：参数校验 → 专属绑定短路 → 会话亲和短路 → 候选解析 →
// 策略排序 → 写会话映射 → 异步使用量更新。
func (s *Service) Select(ctx context.Context, req RequestContext) (*Selection, error) {
	start := time.Now()
	s.stats.total.Add(1)

	if err := validateRequest(req); err != nil {
		s.stats.errors.Add(1)
		s.metrics.RecordSelection(req.Platform.String(), "", outcomeError, time.Since(start), 0)
		return nil, err
	}

	// 专属绑定不参与会话亲和：绑定本身已经固定了账户
	sticky := req.SessionHash != "" && req.Binding.Type != BindingDedicated
	if sticky {
		if sel := s.lookupSticky(ctx, req); sel != nil {
			s.stats.stickyHits.Add(1)
			s.metrics.RecordSelection(req.Platform.String(), "sticky", outcomeSelected, time.Since(start), 1)
			return sel, nil
		}
	}

	set, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		s.recordFailure(req.Platform, err, start)
		return nil, err
	}

	// 策略存储调用在软预算内执行；超时走 least_recent 降级而非失败
	octx, cancel := context.WithTimeout(ctx, s.selectionTimeout)
	ordered, fellBack := s.dispatcher.Order(octx, set, req.Platform)
	cancel()
	if fellBack {
		s.stats.fallbacks.Add(1)
		label := set.strategy.String()
		if label == "" {
			label = "mixed"
		}
		s.metrics.RecordStrategyFallback(req.Platform.String(), label)
	}

	chosen := ordered[0]
	sel := &Selection{
		AccountID: chosen.ID,
		Ownership: chosen.EffectiveOwnership(),
		Platform:  req.Platform,
	}
	strategyLabel := "dedicated"
	if !set.dedicated {
		// 分组绑定用组策略；共享池记入选账号自身的策略
		effective := set.strategy
		if effective == "" {
			effective = chosen.Strategy.Normalize()
		}
		sel.Strategy = effective
		strategyLabel = effective.String()
		if c, ok := s.stats.byStrategy[effective]; ok {
			c.Add(1)
		}
	}

	if sticky {
		mapping := &SessionMapping{
			SessionHash: req.SessionHash,
			AccountID:   chosen.ID,
			Ownership:   sel.Ownership,
			CreatedAt:   s.clock.Now(),
		}
		if err := s.sessions.Set(ctx, mapping, s.sessionTTL); err != nil {
			s.logger.Warn("session mapping write failed",
				zap.String("session_hash", req.SessionHash),
				zap.String("account_id", chosen.ID),
				zap.Error(err),
			)
		}
	}

	s.recordUse(chosen.ID)
	s.metrics.RecordSelection(req.Platform.String(), strategyLabel, outcomeSelected, time.Since(start), len(ordered))
	return sel, nil
}

// lookupSticky 尝试会话亲和短路。
// 命中且账号仍可用（活跃、未过期、未限流、平台一致）则直接返回；
// 映射失效时删除映射并落回常规调度；存储故障只降级，不报错。
// 模型过滤在粘性路径上有意不复查：会话开始时已做过选择。
func (s *Service) lookupSticky(ctx context.Context, req RequestContext) *Selection {
	mapping, err := s.sessions.Get(ctx, req.SessionHash)
	if err != nil {
		s.logger.Warn("session lookup failed, continuing without affinity",
			zap.String("session_hash", req.SessionHash),
			zap.Error(err),
		)
		return nil
	}
	if mapping == nil {
		s.metrics.RecordStickyLookup(stickyMiss)
		return nil
	}

	acct, err := s.accounts.Get(ctx, mapping.AccountID)
	if err != nil {
		s.logger.Warn("sticky account load failed, continuing without affinity",
			zap.String("account_id", mapping.AccountID),
			zap.Error(err),
		)
		return nil
	}

	now := s.clock.Now()
	if acct == nil || !acct.Available() || acct.CredentialsExpired(now) ||
		acct.RateLimited(now) || acct.Platform != req.Platform {
		if err := s.sessions.Delete(ctx, req.SessionHash); err != nil {
			s.logger.Warn("stale session mapping delete failed",
				zap.String("session_hash", req.SessionHash),
				zap.Error(err),
			)
		}
		s.metrics.RecordStickyLookup(stickyStale)
		return nil
	}

	s.metrics.RecordStickyLookup(stickyHit)
	s.recordUse(acct.ID)
	return &Selection{
		AccountID: acct.ID,
		Ownership: acct.EffectiveOwnership(),
		Platform:  req.Platform,
		StickyHit: true,
	}
}

// MarkRateLimited 标记账户被上游限流（429 回调）。
// 同时断开触发请求的会话映射，冷却窗口固定 1 小时。
func (s *Service) MarkRateLimited(ctx context.Context, accountID, sessionHash string) error {
	if accountID == "" {
		return NewError(CodeInvalidRequest, "account id is required")
	}
	if err := s.tracker.MarkLimited(ctx, accountID, sessionHash); err != nil {
		return err
	}
	s.metrics.RecordRateLimitEvent(s.platformLabel(ctx, accountID), rateLimitMark)
	return nil
}

// ClearRateLimited 手动解除账户限流（恢复回调）
func (s *Service) ClearRateLimited(ctx context.Context, accountID string) error {
	if accountID == "" {
		return NewError(CodeInvalidRequest, "account id is required")
	}
	if err := s.tracker.ClearLimited(ctx, accountID); err != nil {
		return err
	}
	s.metrics.RecordRateLimitEvent(s.platformLabel(ctx, accountID), rateLimitClear)
	return nil
}

// Stats 返回当前选择统计的快照
func (s *Service) Stats() SelectionStats {
	st := SelectionStats{
		Total:      s.stats.total.Load(),
		StickyHits: s.stats.stickyHits.Load(),
		Fallbacks:  s.stats.fallbacks.Load(),
		NoAccounts: s.stats.noAccounts.Load(),
		Errors:     s.stats.errors.Load(),
		ByStrategy: make(map[Strategy]int64),
	}
	for strat, c := range s.stats.byStrategy {
		if v := c.Load(); v > 0 {
			st.ByStrategy[strat] = v
		}
	}
	return st
}

// Close 排空在途的异步使用量更新后返回。
// 更新本身带 5 秒超时，等待时间有界。
func (s *Service) Close() error {
	s.bumps.Close()
	return nil
}

// recordUse 异步记录账户使用：usage_count 自增、刷新 last_used_at、
// 滚动窗口计数 +1。字段先快照再提交任务池；
// 队列满或更新失败只记日志，不影响选择结果。
func (s *Service) recordUse(accountID string) {
	now := s.clock.Now()
	err := s.bumps.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageUpdateTimeout)
		defer cancel()

		if err := s.accounts.UpdateUsage(ctx, accountID, 1); err != nil {
			s.logger.Warn("usage count update failed",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
		if err := s.accounts.SetLastUsed(ctx, accountID, now); err != nil {
			s.logger.Warn("last used update failed",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
		if err := s.usage.Bump(ctx, accountID); err != nil {
			s.logger.Warn("usage counter bump failed",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		s.logger.Warn("usage update dropped",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}

// recordFailure 归类失败并记录统计与指标
func (s *Service) recordFailure(platform Platform, err error, start time.Time) {
	outcome := outcomeError
	if GetErrorCode(err) == CodeNoAvailableAccounts {
		s.stats.noAccounts.Add(1)
		outcome = outcomeNoAccounts
	} else {
		s.stats.errors.Add(1)
	}
	s.metrics.RecordSelection(platform.String(), "", outcome, time.Since(start), 0)
}

// platformLabel 查询账户平台作为指标标签，失败时返回 unknown
func (s *Service) platformLabel(ctx context.Context, accountID string) string {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil || acct == nil {
		return "unknown"
	}
	return acct.Platform.String()
}

// validateRequest 校验选择请求的基本参数
func validateRequest(req RequestContext) error {
	if !req.Platform.Valid() {
		return NewError(CodeInvalidRequest, fmt.Sprintf("invalid platform %q", req.Platform)).
			WithPlatform(req.Platform)
	}
	switch req.Binding.Type {
	case BindingNone, "":
	case BindingDedicated:
		if req.Binding.AccountID == "" {
			return NewError(CodeInvalidRequest, "dedicated binding requires account_id")
		}
	case BindingGroup:
		if req.Binding.GroupID == "" {
			return NewError(CodeInvalidRequest, "group binding requires group_id")
		}
	default:
		return NewError(CodeInvalidRequest, fmt.Sprintf("unknown binding type %q", req.Binding.Type))
	}
	return nil
}
