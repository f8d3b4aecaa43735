package scheduler

import (
	"fmt"
	"math/rand"
	"sort"
)

// =============================================================================
// 🎲 调度策略
// =============================================================================

// Strategy 账号调度策略
type Strategy string

const (
	// StrategyRoundRobin 轮询
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastUsed 最少使用优先
	StrategyLeastUsed Strategy = "least_used"
	// StrategyLeastRecent 最久未用优先（默认策略，也是降级策略）
	StrategyLeastRecent Strategy = "least_recent"
	// StrategyRandom 均匀随机
	StrategyRandom Strategy = "random"
	// StrategyWeightedRandom 按权重随机
	StrategyWeightedRandom Strategy = "weighted_random"
	// StrategySequential 按序号顺序
	StrategySequential Strategy = "sequential"
)

// DefaultStrategy 未指定策略时的默认值
const DefaultStrategy = StrategyLeastRecent

// AllStrategies 全部合法策略
var AllStrategies = []Strategy{
	StrategyRoundRobin, StrategyLeastUsed, StrategyLeastRecent,
	StrategyRandom, StrategyWeightedRandom, StrategySequential,
}

// ParseStrategy 解析策略名
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyLeastRecent,
		StrategyRandom, StrategyWeightedRandom, StrategySequential:
		return Strategy(s), nil
	case "":
		return DefaultStrategy, nil
	default:
		return "", fmt.Errorf("unknown strategy: %q", s)
	}
}

// Valid 判断策略是否合法
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyLeastRecent,
		StrategyRandom, StrategyWeightedRandom, StrategySequential:
		return true
	}
	return false
}

// Normalize 空值与非法值回落到默认策略
func (s Strategy) Normalize() Strategy {
	if !s.Valid() {
		return DefaultStrategy
	}
	return s
}

func (s Strategy) String() string {
	return string(s)
}

// =============================================================================
// 📐 排序原语
// =============================================================================
//
// 每个函数产出完整的候选排序而非单个账号，首位是本次的首选，
// 其余作为推进游标或加权抽签后的自然后备序。输入切片不被修改。

// orderRoundRobin 轮询排序，从游标位置起旋转
func orderRoundRobin(accounts []*Account, idx int) []*Account {
	n := len(accounts)
	if n == 0 {
		return nil
	}
	idx = ((idx % n) + n) % n
	ordered := make([]*Account, 0, n)
	for i := 0; i < n; i++ {
		ordered = append(ordered, accounts[(idx+i)%n])
	}
	return ordered
}

// orderLeastUsed 按使用计数升序，计数相同保持原序
func orderLeastUsed(accounts []*Account, counts map[string]int64) []*Account {
	ordered := make([]*Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return counts[ordered[i].ID] < counts[ordered[j].ID]
	})
	return ordered
}

// orderLeastRecent 按最近使用时间升序，从未使用的（零值时间）排最前
func orderLeastRecent(accounts []*Account) []*Account {
	ordered := make([]*Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastUsedAt.Before(ordered[j].LastUsedAt)
	})
	return ordered
}

// orderRandom 均匀随机洗牌
func orderRandom(accounts []*Account, rng *rand.Rand) []*Account {
	ordered := make([]*Account, len(accounts))
	copy(ordered, accounts)
	rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

// orderWeightedRandom 按权重不放回抽签。非正权重视为 0；
// 剩余总权重为 0 时退化为均匀随机。
func orderWeightedRandom(accounts []*Account, rng *rand.Rand) []*Account {
	remaining := make([]*Account, len(accounts))
	copy(remaining, accounts)
	ordered := make([]*Account, 0, len(accounts))

	for len(remaining) > 0 {
		total := 0.0
		for _, a := range remaining {
			if a.Weight > 0 {
				total += a.Weight
			}
		}

		var picked int
		if total <= 0 {
			picked = rng.Intn(len(remaining))
		} else {
			target := rng.Float64() * total
			cumulative := 0.0
			picked = len(remaining) - 1
			for i, a := range remaining {
				if a.Weight <= 0 {
					continue
				}
				cumulative += a.Weight
				if cumulative > target {
					picked = i
					break
				}
			}
		}

		ordered = append(ordered, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}

	return ordered
}

// orderSequential 按序号升序，序号相同按账号 ID 升序。
// 产出的是 sequential 策略的基准序，游标旋转由分发器负责。
func orderSequential(accounts []*Account) []*Account {
	ordered := make([]*Account, len(accounts))
	copy(ordered, accounts)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].SequentialOrder != ordered[j].SequentialOrder {
			return ordered[i].SequentialOrder < ordered[j].SequentialOrder
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
