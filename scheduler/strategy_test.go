package scheduler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 策略测试
// =============================================================================

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    Strategy
		wantErr bool
	}{
		{"round_robin", StrategyRoundRobin, false},
		{"least_used", StrategyLeastUsed, false},
		{"least_recent", StrategyLeastRecent, false},
		{"random", StrategyRandom, false},
		{"weighted_random", StrategyWeightedRandom, false},
		{"sequential", StrategySequential, false},
		{"", DefaultStrategy, false},
		{"fastest", "", true},
		{"RoundRobin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategy_Normalize(t *testing.T) {
	assert.Equal(t, StrategyRoundRobin, StrategyRoundRobin.Normalize())
	assert.Equal(t, DefaultStrategy, Strategy("").Normalize())
	assert.Equal(t, DefaultStrategy, Strategy("bogus").Normalize())
}

func namedAccounts(ids ...string) []*Account {
	accounts := make([]*Account, len(ids))
	for i, id := range ids {
		accounts[i] = &Account{ID: id}
	}
	return accounts
}

func idsOf(accounts []*Account) []string {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids
}

func TestOrderRoundRobin(t *testing.T) {
	accounts := namedAccounts("a", "b", "c")

	assert.Equal(t, []string{"a", "b", "c"}, idsOf(orderRoundRobin(accounts, 0)))
	assert.Equal(t, []string{"b", "c", "a"}, idsOf(orderRoundRobin(accounts, 1)))
	assert.Equal(t, []string{"c", "a", "b"}, idsOf(orderRoundRobin(accounts, 2)))
	// 游标超界与负值都安全回绕
	assert.Equal(t, []string{"a", "b", "c"}, idsOf(orderRoundRobin(accounts, 3)))
	assert.Equal(t, []string{"c", "a", "b"}, idsOf(orderRoundRobin(accounts, -1)))
	assert.Nil(t, orderRoundRobin(nil, 0))
}

func TestOrderRoundRobin_Completeness(t *testing.T) {
	// 连续 n 次推进游标，每个账号恰好出现在首位一次
	accounts := namedAccounts("a", "b", "c", "d")
	seen := make(map[string]int)
	for idx := 0; idx < len(accounts); idx++ {
		first := orderRoundRobin(accounts, idx)[0]
		seen[first.ID]++
	}
	for _, id := range idsOf(accounts) {
		assert.Equal(t, 1, seen[id], "account %s", id)
	}
}

func TestOrderLeastUsed(t *testing.T) {
	accounts := namedAccounts("a", "b", "c")
	counts := map[string]int64{"a": 10, "b": 2, "c": 5}

	assert.Equal(t, []string{"b", "c", "a"}, idsOf(orderLeastUsed(accounts, counts)))

	// 计数缺省为 0，并列保持原序
	ties := namedAccounts("x", "y", "z")
	assert.Equal(t, []string{"x", "y", "z"}, idsOf(orderLeastUsed(ties, nil)))
}

func TestOrderLeastRecent(t *testing.T) {
	now := time.Now()
	accounts := []*Account{
		{ID: "a", LastUsedAt: now.Add(-1 * time.Minute)},
		{ID: "b", LastUsedAt: now.Add(-30 * time.Minute)},
		{ID: "c"}, // 从未使用
		{ID: "d", LastUsedAt: now.Add(-5 * time.Minute)},
	}

	assert.Equal(t, []string{"c", "b", "d", "a"}, idsOf(orderLeastRecent(accounts)))
}

func TestOrderRandom_Permutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	accounts := namedAccounts("a", "b", "c", "d", "e")

	ordered := orderRandom(accounts, rng)
	require.Len(t, ordered, len(accounts))

	seen := make(map[string]bool)
	for _, a := range ordered {
		assert.False(t, seen[a.ID], "duplicate %s", a.ID)
		seen[a.ID] = true
	}
	assert.Len(t, seen, len(accounts))

	// 原切片未被修改
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, idsOf(accounts))
}

func TestOrderWeightedRandom_Convergence(t *testing.T) {
	// 权重 3:1，首位命中率应收敛到 0.75
	rng := rand.New(rand.NewSource(7))
	accounts := []*Account{
		{ID: "heavy", Weight: 3},
		{ID: "light", Weight: 1},
	}

	const trials = 4000
	heavyFirst := 0
	for i := 0; i < trials; i++ {
		ordered := orderWeightedRandom(accounts, rng)
		require.Len(t, ordered, 2)
		if ordered[0].ID == "heavy" {
			heavyFirst++
		}
	}

	ratio := float64(heavyFirst) / float64(trials)
	assert.InDelta(t, 0.75, ratio, 0.05)
}

func TestOrderWeightedRandom_ZeroWeightsLast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	accounts := []*Account{
		{ID: "zero", Weight: 0},
		{ID: "pos", Weight: 2},
		{ID: "neg", Weight: -1},
	}

	for i := 0; i < 50; i++ {
		ordered := orderWeightedRandom(accounts, rng)
		require.Len(t, ordered, 3)
		// 正权重账号总在非正权重账号之前
		assert.Equal(t, "pos", ordered[0].ID)
	}
}

func TestOrderWeightedRandom_AllZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	accounts := []*Account{
		{ID: "a", Weight: 0},
		{ID: "b", Weight: 0},
	}

	ordered := orderWeightedRandom(accounts, rng)
	require.Len(t, ordered, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, idsOf(ordered))
}

func TestOrderSequential(t *testing.T) {
	accounts := []*Account{
		{ID: "x", SequentialOrder: 2},
		{ID: "y", SequentialOrder: 1},
	}

	assert.Equal(t, []string{"y", "x"}, idsOf(orderSequential(accounts)))

	// 序号相同按账号 ID 升序
	ties := []*Account{
		{ID: "b", SequentialOrder: 1},
		{ID: "a", SequentialOrder: 1},
		{ID: "c", SequentialOrder: 0},
	}
	assert.Equal(t, []string{"c", "a", "b"}, idsOf(orderSequential(ties)))
}
