package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🎛️ 策略分发器
// =============================================================================

// Dispatcher 把候选集排成最终的考察顺序。
//
// 排序分两层：先按优先级分层（数字小的层整体排前，层间硬隔离），
// 层内再按策略排序。层内出现多种账号级策略时，各策略子组先独立
// 排序，再按子组轮流交错合并，避免单一策略的账号垄断层首。
type Dispatcher struct {
	cursors CursorStore
	usage   UsageStore
	logger  *zap.Logger

	// rng 供 random / weighted_random 使用，mu 保证并发安全
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDispatcher 创建策略分发器
func NewDispatcher(cursors CursorStore, usage UsageStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cursors: cursors,
		usage:   usage,
		logger:  logger.With(zap.String("component", "dispatcher")),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Order 产出候选集的完整考察顺序。
// 返回值 fellBack 表示本次是否发生过策略降级（游标或计数存储故障时
// 降级为 least_recent，选择本身不失败）。
func (d *Dispatcher) Order(ctx context.Context, set *candidateSet, platform Platform) ([]*Account, bool) {
	if set == nil || len(set.accounts) == 0 {
		return nil, false
	}
	if set.dedicated {
		return set.accounts, false
	}

	tiers, tierOrder := partitionByPriority(set.accounts)

	ordered := make([]*Account, 0, len(set.accounts))
	fellBack := false
	for _, tier := range tierOrder {
		tierOrdered, tierFellBack := d.orderTier(ctx, tiers[tier], set, platform, tier)
		ordered = append(ordered, tierOrdered...)
		fellBack = fellBack || tierFellBack
	}
	return ordered, fellBack
}

// orderTier 排序单个优先级层
func (d *Dispatcher) orderTier(ctx context.Context, accounts []*Account, set *candidateSet, platform Platform, tier int) ([]*Account, bool) {
	// 分组绑定统一用组策略
	if set.strategy != "" {
		return d.applyStrategy(ctx, accounts, set.strategy, set.scope, platform, tier)
	}

	groups, strategies := partitionByStrategy(accounts)
	if len(strategies) == 1 {
		return d.applyStrategy(ctx, accounts, strategies[0], set.scope, platform, tier)
	}

	// 混合策略：子组各自排序后交错合并。
	// 子组顺序按规模降序，同规模按策略名升序，保证确定性。
	sort.SliceStable(strategies, func(i, j int) bool {
		si, sj := len(groups[strategies[i]]), len(groups[strategies[j]])
		if si != sj {
			return si > sj
		}
		return strategies[i] < strategies[j]
	})

	orderedGroups := make([][]*Account, 0, len(strategies))
	fellBack := false
	for _, s := range strategies {
		g, gFellBack := d.applyStrategy(ctx, groups[s], s, set.scope, platform, tier)
		orderedGroups = append(orderedGroups, g)
		fellBack = fellBack || gFellBack
	}

	return interleave(orderedGroups), fellBack
}

// applyStrategy 按单一策略排序。存储故障降级为 least_recent。
func (d *Dispatcher) applyStrategy(ctx context.Context, accounts []*Account, strategy Strategy, scope string, platform Platform, tier int) ([]*Account, bool) {
	switch strategy.Normalize() {
	case StrategyRoundRobin:
		key := cursorKey(scope, StrategyRoundRobin, platform, tier)
		idx, err := d.cursors.Next(ctx, key, len(accounts))
		if err != nil {
			d.logger.Warn("cursor unavailable, falling back to least_recent",
				zap.String("key", key),
				zap.Error(err),
			)
			return orderLeastRecent(accounts), true
		}
		return orderRoundRobin(accounts, idx), false

	case StrategyLeastUsed:
		counts, err := d.usage.Counts(ctx, idsOfAccounts(accounts))
		if err != nil {
			d.logger.Warn("usage counters unavailable, falling back to least_recent",
				zap.Error(err),
			)
			return orderLeastRecent(accounts), true
		}
		return orderLeastUsed(accounts, counts), false

	case StrategyRandom:
		d.mu.Lock()
		ordered := orderRandom(accounts, d.rng)
		d.mu.Unlock()
		return ordered, false

	case StrategyWeightedRandom:
		d.mu.Lock()
		ordered := orderWeightedRandom(accounts, d.rng)
		d.mu.Unlock()
		return ordered, false

	case StrategySequential:
		sorted := orderSequential(accounts)
		key := cursorKey(scope, StrategySequential, platform, tier)
		idx, err := d.cursors.Next(ctx, key, len(sorted))
		if err != nil {
			d.logger.Warn("cursor unavailable, falling back to least_recent",
				zap.String("key", key),
				zap.Error(err),
			)
			return orderLeastRecent(accounts), true
		}
		return orderRoundRobin(sorted, idx), false

	default:
		return orderLeastRecent(accounts), false
	}
}

// cursorKey 组合游标键：命名空间、策略、平台、优先级层
func cursorKey(scope string, strategy Strategy, platform Platform, tier int) string {
	return fmt.Sprintf("%s:%s:%s:%d", scope, strategy, platform, tier)
}

// partitionByPriority 按优先级分层，返回层表与升序层号
func partitionByPriority(accounts []*Account) (map[int][]*Account, []int) {
	tiers := make(map[int][]*Account)
	for _, a := range accounts {
		tiers[a.Priority] = append(tiers[a.Priority], a)
	}
	order := make([]int, 0, len(tiers))
	for tier := range tiers {
		order = append(order, tier)
	}
	sort.Ints(order)
	return tiers, order
}

// partitionByStrategy 按归一化策略分子组，保持出现顺序
func partitionByStrategy(accounts []*Account) (map[Strategy][]*Account, []Strategy) {
	groups := make(map[Strategy][]*Account)
	var strategies []Strategy
	for _, a := range accounts {
		s := a.Strategy.Normalize()
		if _, seen := groups[s]; !seen {
			strategies = append(strategies, s)
		}
		groups[s] = append(groups[s], a)
	}
	return groups, strategies
}

// interleave 按下标轮流从各子组取元素，子组耗尽则跳过
func interleave(groups [][]*Account) []*Account {
	total := 0
	maxLen := 0
	for _, g := range groups {
		total += len(g)
		if len(g) > maxLen {
			maxLen = len(g)
		}
	}

	merged := make([]*Account, 0, total)
	for i := 0; i < maxLen; i++ {
		for _, g := range groups {
			if i < len(g) {
				merged = append(merged, g[i])
			}
		}
	}
	return merged
}

func idsOfAccounts(accounts []*Account) []string {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids
}
