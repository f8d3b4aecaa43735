package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// memCursorStore 进程内游标存储，语义与 Redis INCR 对齐
type memCursorStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{counters: make(map[string]int64)}
}

func (s *memCursorStore) Next(_ context.Context, key string, modulo int) (int, error) {
	if modulo <= 0 {
		return 0, fmt.Errorf("cursor modulo must be positive, got %d", modulo)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[key]
	s.counters[key] = v + 1
	return int(v % int64(modulo)), nil
}

// memUsageStore 进程内使用量计数存储
type memUsageStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{counts: make(map[string]int64)}
}

func (s *memUsageStore) Bump(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[accountID]++
	return nil
}

func (s *memUsageStore) Counts(_ context.Context, accountIDs []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(accountIDs))
	for _, id := range accountIDs {
		out[id] = s.counts[id]
	}
	return out, nil
}

func newPropertyDispatcher() *Dispatcher {
	d := NewDispatcher(newMemCursorStore(), newMemUsageStore(), zap.NewNop())
	d.rng = rand.New(rand.NewSource(1))
	return d
}

// drawAccounts 生成一批随机属性的候选账号
func drawAccounts(rt *rapid.T) []*Account {
	n := rapid.IntRange(1, 12).Draw(rt, "n")
	accounts := make([]*Account, n)
	for i := 0; i < n; i++ {
		accounts[i] = &Account{
			ID:              fmt.Sprintf("acc-%d", i),
			Priority:        rapid.SampledFrom([]int{0, 10, 50, 90}).Draw(rt, fmt.Sprintf("priority-%d", i)),
			Strategy:        rapid.SampledFrom(AllStrategies).Draw(rt, fmt.Sprintf("strategy-%d", i)),
			Weight:          float64(rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("weight-%d", i))),
			SequentialOrder: rapid.IntRange(0, 9).Draw(rt, fmt.Sprintf("seq-%d", i)),
		}
	}
	return accounts
}

// 任意候选组合下，输出都是输入的一个排列：不丢账号、不重复
func TestDispatcherProperty_OutputIsPermutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := newPropertyDispatcher()
		accounts := drawAccounts(rt)

		ordered, _ := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)

		if len(ordered) != len(accounts) {
			rt.Fatalf("expected %d accounts, got %d", len(accounts), len(ordered))
		}
		seen := make(map[string]bool, len(ordered))
		for _, a := range ordered {
			if seen[a.ID] {
				rt.Fatalf("duplicate account %s in output", a.ID)
			}
			seen[a.ID] = true
		}
	})
}

// 低优先级数字的账号永远排在高数字账号之前，不论策略组合
func TestDispatcherProperty_PriorityPrecedence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := newPropertyDispatcher()
		accounts := drawAccounts(rt)

		ordered, _ := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)

		for i := 1; i < len(ordered); i++ {
			if ordered[i-1].Priority > ordered[i].Priority {
				rt.Fatalf("priority inversion at %d: %d before %d",
					i, ordered[i-1].Priority, ordered[i].Priority)
			}
		}
	})
}

// 输入、游标状态与随机数种子都相同时，两个分发器产出完全一致的排序
func TestDispatcherProperty_DeterministicGivenState(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		accounts := drawAccounts(rt)

		first, _ := newPropertyDispatcher().Order(context.Background(), sharedSet(accounts...), PlatformClaude)
		second, _ := newPropertyDispatcher().Order(context.Background(), sharedSet(accounts...), PlatformClaude)

		for i := range first {
			if first[i].ID != second[i].ID {
				rt.Fatalf("order not deterministic at %d: %s vs %s", i, first[i].ID, second[i].ID)
			}
		}
	})
}

// 混合策略层内，每个策略子组的成员相对顺序与该子组单独排序一致
func TestDispatcherProperty_InterleavePreservesSubgroupOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := newPropertyDispatcher()

		n := rapid.IntRange(2, 10).Draw(rt, "n")
		accounts := make([]*Account, n)
		for i := 0; i < n; i++ {
			accounts[i] = &Account{
				ID:              fmt.Sprintf("acc-%d", i),
				Priority:        50,
				Strategy:        rapid.SampledFrom([]Strategy{StrategySequential, StrategyLeastRecent}).Draw(rt, fmt.Sprintf("strategy-%d", i)),
				SequentialOrder: rapid.IntRange(0, 9).Draw(rt, fmt.Sprintf("seq-%d", i)),
			}
		}

		ordered, _ := d.Order(context.Background(), sharedSet(accounts...), PlatformClaude)

		// 提取输出里 sequential 子组的相对顺序
		var gotSeq []string
		for _, a := range ordered {
			if a.Strategy == StrategySequential {
				gotSeq = append(gotSeq, a.ID)
			}
		}

		// 子组单独排序的期望顺序
		var seqOnly []*Account
		for _, a := range accounts {
			if a.Strategy == StrategySequential {
				seqOnly = append(seqOnly, a)
			}
		}
		wantSeq := orderSequential(seqOnly)

		if len(gotSeq) != len(wantSeq) {
			rt.Fatalf("sequential subgroup size mismatch: %d vs %d", len(gotSeq), len(wantSeq))
		}
		for i := range wantSeq {
			if gotSeq[i] != wantSeq[i].ID {
				rt.Fatalf("subgroup order broken at %d: got %s want %s", i, gotSeq[i], wantSeq[i].ID)
			}
		}
	})
}
