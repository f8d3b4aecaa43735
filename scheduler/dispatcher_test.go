package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	_, manager := setupRedisStores(t)
	logger := zaptest.NewLogger(t)
	cursors := NewRedisCursorStore(manager, logger)
	usage := NewRedisUsageStore(manager, logger)

	d := NewDispatcher(cursors, usage, logger)
	d.rng = rand.New(rand.NewSource(42))
	return d
}

func sharedSet(accounts ...*Account) *candidateSet {
	return &candidateSet{accounts: accounts, scope: sharedCursorScope}
}

func TestDispatcher_DedicatedPassthrough(t *testing.T) {
	d := setupDispatcher(t)

	set := &candidateSet{accounts: namedAccounts("mine"), dedicated: true}
	ordered, fellBack := d.Order(context.Background(), set, PlatformClaude)

	assert.Equal(t, []string{"mine"}, idsOf(ordered))
	assert.False(t, fellBack)
}

func TestDispatcher_EmptySet(t *testing.T) {
	d := setupDispatcher(t)

	ordered, fellBack := d.Order(context.Background(), nil, PlatformClaude)
	assert.Nil(t, ordered)
	assert.False(t, fellBack)

	ordered, _ = d.Order(context.Background(), sharedSet(), PlatformClaude)
	assert.Nil(t, ordered)
}

func TestDispatcher_PriorityTiersPrecede(t *testing.T) {
	d := setupDispatcher(t)

	// 优先级小的层整体排前，层内策略不影响层间顺序
	tier10a := &Account{ID: "t10a", Priority: 10, Strategy: StrategySequential, SequentialOrder: 2}
	tier10b := &Account{ID: "t10b", Priority: 10, Strategy: StrategySequential, SequentialOrder: 1}
	tier50 := &Account{ID: "t50", Priority: 50}
	tier90 := &Account{ID: "t90", Priority: 90}

	ordered, fellBack := d.Order(context.Background(), sharedSet(tier50, tier90, tier10a, tier10b), PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"t10b", "t10a", "t50", "t90"}, idsOf(ordered))
}

func TestDispatcher_UniformRoundRobinRotation(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	accounts := []*Account{
		{ID: "a", Strategy: StrategyRoundRobin},
		{ID: "b", Strategy: StrategyRoundRobin},
		{ID: "c", Strategy: StrategyRoundRobin},
	}

	var firsts []string
	for i := 0; i < 4; i++ {
		ordered, fellBack := d.Order(ctx, sharedSet(accounts...), PlatformClaude)
		require.False(t, fellBack)
		require.Len(t, ordered, 3)
		firsts = append(firsts, ordered[0].ID)
	}

	// 游标每次推进一格，第四次回绕
	assert.Equal(t, []string{"a", "b", "c", "a"}, firsts)
}

func TestDispatcher_RoundRobinCompleteness(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	accounts := []*Account{
		{ID: "a", Strategy: StrategyRoundRobin},
		{ID: "b", Strategy: StrategyRoundRobin},
		{ID: "c", Strategy: StrategyRoundRobin},
		{ID: "d", Strategy: StrategyRoundRobin},
	}

	// 一个完整周期内每个账号恰好领跑一次
	seen := make(map[string]int)
	for i := 0; i < len(accounts); i++ {
		ordered, _ := d.Order(ctx, sharedSet(accounts...), PlatformClaude)
		seen[ordered[0].ID]++
	}
	for _, a := range accounts {
		assert.Equal(t, 1, seen[a.ID], "account %s", a.ID)
	}
}

func TestDispatcher_GroupStrategyOverride(t *testing.T) {
	d := setupDispatcher(t)

	// 组策略覆盖账号级策略
	set := &candidateSet{
		accounts: []*Account{
			{ID: "x", Strategy: StrategyRandom, SequentialOrder: 2},
			{ID: "y", Strategy: StrategyRoundRobin, SequentialOrder: 1},
		},
		strategy: StrategySequential,
		scope:    "group:g1",
	}

	ordered, fellBack := d.Order(context.Background(), set, PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"y", "x"}, idsOf(ordered))
}

func TestDispatcher_MixedStrategyInterleave(t *testing.T) {
	d := setupDispatcher(t)
	now := time.Now()

	// sequential 子组（2 个）与 least_recent 子组（1 个）：
	// 大子组排前，交错得 seq[0], lr[0], seq[1]
	s1 := &Account{ID: "s1", Strategy: StrategySequential, SequentialOrder: 2, LastUsedAt: now}
	s2 := &Account{ID: "s2", Strategy: StrategySequential, SequentialOrder: 1, LastUsedAt: now}
	lr1 := &Account{ID: "lr1", Strategy: StrategyLeastRecent, LastUsedAt: now.Add(-time.Hour)}

	ordered, fellBack := d.Order(context.Background(), sharedSet(s1, s2, lr1), PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"s2", "lr1", "s1"}, idsOf(ordered))
}

func TestDispatcher_MixedStrategyTieBreak(t *testing.T) {
	d := setupDispatcher(t)

	// 子组规模相同时按策略名升序：least_recent < sequential
	seq := &Account{ID: "seq", Strategy: StrategySequential, SequentialOrder: 1}
	lr := &Account{ID: "lr", Strategy: StrategyLeastRecent}

	ordered, fellBack := d.Order(context.Background(), sharedSet(seq, lr), PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"lr", "seq"}, idsOf(ordered))
}

func TestDispatcher_MixedInterleaveDoesNotShareCursorAcrossTiers(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	// 两个层各自的 round_robin 游标独立推进
	t10 := []*Account{
		{ID: "t10a", Priority: 10, Strategy: StrategyRoundRobin},
		{ID: "t10b", Priority: 10, Strategy: StrategyRoundRobin},
	}
	t50 := []*Account{
		{ID: "t50a", Priority: 50, Strategy: StrategyRoundRobin},
		{ID: "t50b", Priority: 50, Strategy: StrategyRoundRobin},
	}
	all := append(append([]*Account{}, t10...), t50...)

	first, _ := d.Order(ctx, sharedSet(all...), PlatformClaude)
	second, _ := d.Order(ctx, sharedSet(all...), PlatformClaude)

	assert.Equal(t, []string{"t10a", "t10b", "t50a", "t50b"}, idsOf(first))
	assert.Equal(t, []string{"t10b", "t10a", "t50b", "t50a"}, idsOf(second))
}

func TestDispatcher_CursorScopeIsolation(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	accounts := []*Account{
		{ID: "a", Strategy: StrategyRoundRobin},
		{ID: "b", Strategy: StrategyRoundRobin},
	}

	// 共享池先推进一次游标
	shared, _ := d.Order(ctx, sharedSet(accounts...), PlatformClaude)
	assert.Equal(t, "a", shared[0].ID)

	// 分组作用域的游标从零开始，不受共享池影响
	groupSet := &candidateSet{accounts: accounts, strategy: StrategyRoundRobin, scope: "group:g1"}
	grouped, _ := d.Order(ctx, groupSet, PlatformClaude)
	assert.Equal(t, "a", grouped[0].ID)
}

func TestDispatcher_SequentialCursorRotation(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	// 基准序按 sequential_order 排 [b, c, a]，游标逐次旋转
	accounts := []*Account{
		{ID: "a", Strategy: StrategySequential, SequentialOrder: 3},
		{ID: "b", Strategy: StrategySequential, SequentialOrder: 1},
		{ID: "c", Strategy: StrategySequential, SequentialOrder: 2},
	}

	var firsts []string
	for i := 0; i < 4; i++ {
		ordered, fellBack := d.Order(ctx, sharedSet(accounts...), PlatformClaude)
		require.False(t, fellBack)
		firsts = append(firsts, ordered[0].ID)
	}
	assert.Equal(t, []string{"b", "c", "a", "b"}, firsts)
}

func TestDispatcher_SequentialTieBreaksOnID(t *testing.T) {
	d := setupDispatcher(t)

	accounts := []*Account{
		{ID: "beta", Strategy: StrategySequential, SequentialOrder: 1},
		{ID: "alpha", Strategy: StrategySequential, SequentialOrder: 1},
	}

	ordered, fellBack := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"alpha", "beta"}, idsOf(ordered))
}

func TestDispatcher_LeastUsedReadsCounters(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	// 预热使用计数：a 用得多，c 没用过
	require.NoError(t, d.usage.Bump(ctx, "a"))
	require.NoError(t, d.usage.Bump(ctx, "a"))
	require.NoError(t, d.usage.Bump(ctx, "a"))
	require.NoError(t, d.usage.Bump(ctx, "b"))

	accounts := []*Account{
		{ID: "a", Strategy: StrategyLeastUsed},
		{ID: "b", Strategy: StrategyLeastUsed},
		{ID: "c", Strategy: StrategyLeastUsed},
	}

	ordered, fellBack := d.Order(ctx, sharedSet(accounts...), PlatformClaude)
	require.False(t, fellBack)
	assert.Equal(t, []string{"c", "b", "a"}, idsOf(ordered))
}

// failingCursorStore 模拟游标存储故障
type failingCursorStore struct{}

func (failingCursorStore) Next(context.Context, string, int) (int, error) {
	return 0, errors.New("cursor store down")
}

// failingUsageStore 模拟计数存储故障
type failingUsageStore struct{}

func (failingUsageStore) Bump(context.Context, string) error {
	return errors.New("usage store down")
}

func (failingUsageStore) Counts(context.Context, []string) (map[string]int64, error) {
	return nil, errors.New("usage store down")
}

func TestDispatcher_FallbackOnCursorFailure(t *testing.T) {
	d := NewDispatcher(failingCursorStore{}, failingUsageStore{}, zaptest.NewLogger(t))
	now := time.Now()

	accounts := []*Account{
		{ID: "recent", Strategy: StrategyRoundRobin, LastUsedAt: now},
		{ID: "stale", Strategy: StrategyRoundRobin, LastUsedAt: now.Add(-time.Hour)},
	}

	// 游标故障降级为 least_recent，选择不失败
	ordered, fellBack := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)
	assert.True(t, fellBack)
	assert.Equal(t, []string{"stale", "recent"}, idsOf(ordered))
}

func TestDispatcher_FallbackOnUsageFailure(t *testing.T) {
	d := NewDispatcher(failingCursorStore{}, failingUsageStore{}, zaptest.NewLogger(t))
	now := time.Now()

	accounts := []*Account{
		{ID: "recent", Strategy: StrategyLeastUsed, LastUsedAt: now},
		{ID: "stale", Strategy: StrategyLeastUsed, LastUsedAt: now.Add(-time.Hour)},
	}

	ordered, fellBack := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)
	assert.True(t, fellBack)
	assert.Equal(t, []string{"stale", "recent"}, idsOf(ordered))
}
