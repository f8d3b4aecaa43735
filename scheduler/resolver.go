package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// 🔍 候选解析器
// =============================================================================

// candidateSet 解析后的候选集
type candidateSet struct {
	accounts []*Account
	// strategy 非空时整个候选集按该策略统一排序（分组绑定场景）
	strategy Strategy
	// scope 游标命名空间：共享池与各分组的轮询游标互不干扰
	scope string
	// dedicated 为真时候选集来自专属绑定，直接短路选择
	dedicated bool
}

const sharedCursorScope = "shared"

// Resolver 把请求绑定解析成候选账号集。
// 专属绑定短路返回单账号；分组绑定取组内成员并继承组策略；
// 无绑定时取平台共享池。所有路径都做可用性与冷却过滤。
type Resolver struct {
	accounts AccountStore
	groups   GroupStore
	clock    Clock
	strict   bool
	logger   *zap.Logger
}

// NewResolver 创建候选解析器。
// strict 控制专属账号不可用时的行为：报错（默认）或回落共享池。
func NewResolver(accounts AccountStore, groups GroupStore, clock Clock, strict bool, logger *zap.Logger) *Resolver {
	if clock == nil {
		clock = SystemClock()
	}
	return &Resolver{
		accounts: accounts,
		groups:   groups,
		clock:    clock,
		strict:   strict,
		logger:   logger.With(zap.String("component", "resolver")),
	}
}

// Resolve 解析请求上下文，返回候选集
func (r *Resolver) Resolve(ctx context.Context, req RequestContext) (*candidateSet, error) {
	switch req.Binding.Type {
	case BindingDedicated:
		return r.resolveDedicated(ctx, req)
	case BindingGroup:
		return r.resolveGroup(ctx, req)
	default:
		return r.resolveShared(ctx, req)
	}
}

// resolveDedicated 解析专属绑定。
// 平台不匹配永远报错（绑定配置错误不应被静默掩盖）；
// 账号缺失或不可用时，strict 模式报错，宽松模式回落共享池。
// 专属账号不做模型过滤，显式指名即视为有意为之。
func (r *Resolver) resolveDedicated(ctx context.Context, req RequestContext) (*candidateSet, error) {
	account, err := r.accounts.Get(ctx, req.Binding.AccountID)
	if err != nil {
		return nil, storeUnavailable("load dedicated account", err)
	}

	if account != nil && account.Platform != req.Platform {
		return nil, NewError(CodePlatformMismatch, "dedicated account belongs to a different platform").
			WithAccount(req.Binding.AccountID).
			WithPlatform(account.Platform)
	}

	now := r.clock.Now()
	usable := account != nil &&
		account.Available() &&
		!account.CredentialsExpired(now) &&
		!account.RateLimited(now)

	if usable {
		return &candidateSet{accounts: []*Account{account}, dedicated: true}, nil
	}

	if r.strict {
		return nil, NewError(CodeDedicatedAccountUnavailable, "dedicated account is not schedulable").
			WithAccount(req.Binding.AccountID).
			WithPlatform(req.Platform)
	}

	r.logger.Info("dedicated account unavailable, falling back to shared pool",
		zap.String("account_id", req.Binding.AccountID),
		zap.String("platform", string(req.Platform)),
	)
	return r.resolveShared(ctx, req)
}

// resolveGroup 解析分组绑定，候选集继承组策略
func (r *Resolver) resolveGroup(ctx context.Context, req RequestContext) (*candidateSet, error) {
	group, err := r.groups.GetGroup(ctx, req.Binding.GroupID)
	if err != nil {
		return nil, storeUnavailable("load group", err)
	}
	if group == nil {
		return nil, NewError(CodeGroupNotFound, "account group does not exist").
			WithPlatform(req.Platform)
	}
	if group.Platform != req.Platform {
		return nil, NewError(CodePlatformMismatch, "account group belongs to a different platform").
			WithPlatform(group.Platform)
	}

	members, err := r.groups.ListMembers(ctx, req.Binding.GroupID)
	if err != nil {
		return nil, storeUnavailable("load group members", err)
	}

	eligible, modelFiltered := r.filterEligible(members, req.RequestedModel)
	if len(eligible) == 0 {
		return nil, noAvailableAccounts(req.Platform, req.RequestedModel, modelFiltered)
	}

	return &candidateSet{
		accounts: eligible,
		strategy: group.Strategy.Normalize(),
		scope:    "group:" + group.ID,
	}, nil
}

// resolveShared 解析共享池：平台下归属为 shared 的账号
func (r *Resolver) resolveShared(ctx context.Context, req RequestContext) (*candidateSet, error) {
	all, err := r.accounts.ListByPlatform(ctx, req.Platform)
	if err != nil {
		return nil, storeUnavailable("list platform accounts", err)
	}

	shared := make([]*Account, 0, len(all))
	for _, a := range all {
		if a.EffectiveOwnership() == OwnershipShared {
			shared = append(shared, a)
		}
	}

	eligible, modelFiltered := r.filterEligible(shared, req.RequestedModel)
	if len(eligible) == 0 {
		return nil, noAvailableAccounts(req.Platform, req.RequestedModel, modelFiltered)
	}

	return &candidateSet{accounts: eligible, scope: sharedCursorScope}, nil
}

// filterEligible 过滤不可用账号，并统计仅因模型不支持而被剔除的数量
func (r *Resolver) filterEligible(accounts []*Account, model string) ([]*Account, int) {
	now := r.clock.Now()
	eligible := make([]*Account, 0, len(accounts))
	modelFiltered := 0

	for _, a := range accounts {
		if a == nil || !a.Available() || a.CredentialsExpired(now) || a.RateLimited(now) {
			continue
		}
		if model != "" && !a.SupportsModel(model) {
			modelFiltered++
			continue
		}
		eligible = append(eligible, a)
	}

	return eligible, modelFiltered
}
