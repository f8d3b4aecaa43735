package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupResolver(t *testing.T, strict bool) (*Resolver, *GormStore, *fakeClock) {
	t.Helper()

	store := setupStoreDB(t)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	resolver := NewResolver(store, store, clock, strict, zaptest.NewLogger(t))
	return resolver, store, clock
}

func sharedRequest(platform Platform) RequestContext {
	return RequestContext{Platform: platform, Binding: BindNone()}
}

func TestResolver_SharedPoolFiltering(t *testing.T) {
	resolver, store, clock := setupResolver(t, true)
	ctx := context.Background()

	now := clock.Now()
	limitedAt := now.Add(-10 * time.Minute)

	ok := newTestAccount("ok", PlatformClaude)
	inactive := newTestAccount("inactive", PlatformClaude)
	inactive.IsActive = false
	errored := newTestAccount("errored", PlatformClaude)
	errored.HasError = true
	unschedulable := newTestAccount("unschedulable", PlatformClaude)
	unschedulable.Schedulable = false
	limited := newTestAccount("limited", PlatformClaude)
	limited.RateLimitStatus = RateLimitLimited
	limited.RateLimitedAt = &limitedAt
	dedicated := newTestAccount("dedicated", PlatformClaude)
	dedicated.Ownership = OwnershipDedicated
	grouped := newTestAccount("grouped", PlatformClaude)
	grouped.Ownership = OwnershipGroup
	otherPlatform := newTestAccount("qwen", PlatformQwen)

	for _, a := range []*Account{ok, inactive, errored, unschedulable, limited, dedicated, grouped, otherPlatform} {
		require.NoError(t, store.CreateAccount(ctx, a))
	}

	set, err := resolver.Resolve(ctx, sharedRequest(PlatformClaude))
	require.NoError(t, err)
	require.Len(t, set.accounts, 1)
	assert.Equal(t, "ok", set.accounts[0].ID)
	assert.False(t, set.dedicated)
	assert.Empty(t, set.strategy)
}

func TestResolver_SharedPoolEmpty(t *testing.T) {
	resolver, _, _ := setupResolver(t, true)

	_, err := resolver.Resolve(context.Background(), sharedRequest(PlatformClaude))
	assert.True(t, errors.Is(err, ErrNoAvailableAccounts))
}

func TestResolver_RateLimitWindowExpiry(t *testing.T) {
	resolver, store, clock := setupResolver(t, true)
	ctx := context.Background()

	limitedAt := clock.Now()
	limited := newTestAccount("limited", PlatformClaude)
	limited.RateLimitStatus = RateLimitLimited
	limited.RateLimitedAt = &limitedAt
	require.NoError(t, store.CreateAccount(ctx, limited))

	_, err := resolver.Resolve(ctx, sharedRequest(PlatformClaude))
	assert.True(t, errors.Is(err, ErrNoAvailableAccounts))

	// 冷却窗口过后账号自动回到候选集
	clock.Advance(RateLimitCooldown + time.Second)
	set, err := resolver.Resolve(ctx, sharedRequest(PlatformClaude))
	require.NoError(t, err)
	assert.Equal(t, []string{"limited"}, idsOf(set.accounts))
}

func TestResolver_ModelFiltering(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	sonnetOnly := newTestAccount("sonnet-only", PlatformClaude)
	sonnetOnly.SupportedModels = StringList{"claude-sonnet-4"}
	anyModel := newTestAccount("any-model", PlatformClaude)
	require.NoError(t, store.CreateAccount(ctx, sonnetOnly))
	require.NoError(t, store.CreateAccount(ctx, anyModel))

	req := sharedRequest(PlatformClaude)
	req.RequestedModel = "claude-opus-4"

	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"any-model"}, idsOf(set.accounts))
}

func TestResolver_ModelFilterErrorMessage(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	sonnetOnly := newTestAccount("sonnet-only", PlatformClaude)
	sonnetOnly.SupportedModels = StringList{"claude-sonnet-4"}
	require.NoError(t, store.CreateAccount(ctx, sonnetOnly))

	req := sharedRequest(PlatformClaude)
	req.RequestedModel = "claude-opus-4"

	_, err := resolver.Resolve(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAvailableAccounts))
	// 错误信息区分“池空”与“模型过滤后为空”
	assert.Contains(t, err.Error(), "claude-opus-4")
	assert.Contains(t, err.Error(), "1 excluded by model filter")
}

func TestResolver_DedicatedBinding(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	dedicated := newTestAccount("mine", PlatformClaude)
	dedicated.Ownership = OwnershipDedicated
	// 专属账号即使不支持请求模型也直接返回
	dedicated.SupportedModels = StringList{"claude-sonnet-4"}
	require.NoError(t, store.CreateAccount(ctx, dedicated))

	req := RequestContext{
		Platform:       PlatformClaude,
		Binding:        BindDedicated("mine"),
		RequestedModel: "claude-opus-4",
	}

	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	require.Len(t, set.accounts, 1)
	assert.Equal(t, "mine", set.accounts[0].ID)
	assert.True(t, set.dedicated)
}

func TestResolver_DedicatedMissingStrict(t *testing.T) {
	resolver, _, _ := setupResolver(t, true)

	req := RequestContext{Platform: PlatformClaude, Binding: BindDedicated("ghost")}
	_, err := resolver.Resolve(context.Background(), req)
	assert.True(t, errors.Is(err, ErrDedicatedAccountUnavailable))
}

func TestResolver_DedicatedUnavailableStrict(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	down := newTestAccount("down", PlatformClaude)
	down.Ownership = OwnershipDedicated
	down.IsActive = false
	require.NoError(t, store.CreateAccount(ctx, down))

	req := RequestContext{Platform: PlatformClaude, Binding: BindDedicated("down")}
	_, err := resolver.Resolve(ctx, req)
	assert.True(t, errors.Is(err, ErrDedicatedAccountUnavailable))
}

func TestResolver_DedicatedRateLimitedStrict(t *testing.T) {
	resolver, store, clock := setupResolver(t, true)
	ctx := context.Background()

	limitedAt := clock.Now()
	acc := newTestAccount("mine", PlatformClaude)
	acc.Ownership = OwnershipDedicated
	acc.RateLimitStatus = RateLimitLimited
	acc.RateLimitedAt = &limitedAt
	require.NoError(t, store.CreateAccount(ctx, acc))

	req := RequestContext{Platform: PlatformClaude, Binding: BindDedicated("mine")}
	_, err := resolver.Resolve(ctx, req)
	assert.True(t, errors.Is(err, ErrDedicatedAccountUnavailable))

	// 冷却过后恢复可用
	clock.Advance(RateLimitCooldown + time.Second)
	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, set.dedicated)
}

func TestResolver_DedicatedPlatformMismatch(t *testing.T) {
	for _, strict := range []bool{true, false} {
		resolver, store, _ := setupResolver(t, strict)
		ctx := context.Background()

		acc := newTestAccount("mine", PlatformOpenAI)
		acc.Ownership = OwnershipDedicated
		require.NoError(t, store.CreateAccount(ctx, acc))

		// 平台不匹配在宽松模式下也不回落，绑定配置错误必须显式暴露
		req := RequestContext{Platform: PlatformClaude, Binding: BindDedicated("mine")}
		_, err := resolver.Resolve(ctx, req)
		assert.True(t, errors.Is(err, ErrPlatformMismatch), "strict=%v", strict)
	}
}

func TestResolver_DedicatedFallbackLax(t *testing.T) {
	resolver, store, _ := setupResolver(t, false)
	ctx := context.Background()

	down := newTestAccount("down", PlatformClaude)
	down.Ownership = OwnershipDedicated
	down.IsActive = false
	shared := newTestAccount("backup", PlatformClaude)
	require.NoError(t, store.CreateAccount(ctx, down))
	require.NoError(t, store.CreateAccount(ctx, shared))

	req := RequestContext{Platform: PlatformClaude, Binding: BindDedicated("down")}
	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup"}, idsOf(set.accounts))
	assert.False(t, set.dedicated)
}

func TestResolver_GroupBinding(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		a := newTestAccount(id, PlatformClaude)
		a.Ownership = OwnershipGroup
		require.NoError(t, store.CreateAccount(ctx, a))
	}
	group := &Group{ID: "g1", Platform: PlatformClaude, Strategy: StrategySequential}
	require.NoError(t, store.CreateGroup(ctx, group, []string{"m2", "m1", "m3"}))

	req := RequestContext{Platform: PlatformClaude, Binding: BindGroup("g1")}
	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1", "m3"}, idsOf(set.accounts))
	assert.Equal(t, StrategySequential, set.strategy)
}

func TestResolver_GroupStrategyDefault(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	a := newTestAccount("m1", PlatformClaude)
	require.NoError(t, store.CreateAccount(ctx, a))
	group := &Group{ID: "g1", Platform: PlatformClaude}
	require.NoError(t, store.CreateGroup(ctx, group, []string{"m1"}))

	req := RequestContext{Platform: PlatformClaude, Binding: BindGroup("g1")}
	set, err := resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategy, set.strategy)
}

func TestResolver_GroupNotFound(t *testing.T) {
	resolver, _, _ := setupResolver(t, true)

	req := RequestContext{Platform: PlatformClaude, Binding: BindGroup("ghost")}
	_, err := resolver.Resolve(context.Background(), req)
	assert.True(t, errors.Is(err, ErrGroupNotFound))
}

func TestResolver_GroupPlatformMismatch(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	group := &Group{ID: "g1", Platform: PlatformOpenAI}
	require.NoError(t, store.CreateGroup(ctx, group, nil))

	req := RequestContext{Platform: PlatformClaude, Binding: BindGroup("g1")}
	_, err := resolver.Resolve(ctx, req)
	assert.True(t, errors.Is(err, ErrPlatformMismatch))
}

func TestResolver_GroupAllMembersIneligible(t *testing.T) {
	resolver, store, _ := setupResolver(t, true)
	ctx := context.Background()

	down := newTestAccount("down", PlatformClaude)
	down.IsActive = false
	require.NoError(t, store.CreateAccount(ctx, down))
	group := &Group{ID: "g1", Platform: PlatformClaude}
	require.NoError(t, store.CreateGroup(ctx, group, []string{"down"}))

	req := RequestContext{Platform: PlatformClaude, Binding: BindGroup("g1")}
	_, err := resolver.Resolve(ctx, req)
	assert.True(t, errors.Is(err, ErrNoAvailableAccounts))
}

func TestResolver_CredentialExpiry(t *testing.T) {
	resolver, store, clock := setupResolver(t, true)
	ctx := context.Background()

	expired := clock.Now().Add(-time.Minute)

	// OAuth 过期且无刷新令牌：剔除
	dead := newTestAccount("dead", PlatformClaude)
	dead.AuthType = AuthTypeOAuth
	dead.TokenExpiresAt = &expired
	require.NoError(t, store.CreateAccount(ctx, dead))

	// OAuth 过期但有刷新令牌：保留
	refreshable := newTestAccount("refreshable", PlatformClaude)
	refreshable.AuthType = AuthTypeOAuth
	refreshable.TokenExpiresAt = &expired
	refreshable.RefreshToken = "rt-1"
	require.NoError(t, store.CreateAccount(ctx, refreshable))

	// API Key 凭证不过期
	apikey := newTestAccount("apikey", PlatformClaude)
	apikey.AuthType = AuthTypeAPIKey
	apikey.TokenExpiresAt = &expired
	require.NoError(t, store.CreateAccount(ctx, apikey))

	set, err := resolver.Resolve(ctx, sharedRequest(PlatformClaude))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"refreshable", "apikey"}, idsOf(set.accounts))
}
