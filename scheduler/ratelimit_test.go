package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tensorgate/relaypool/internal/cache"
)

// fakeClock 可手动推进的测试时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTracker(t *testing.T) (*RateLimitTracker, *GormStore, *RedisSessionStore, *fakeClock) {
	t.Helper()

	store := setupStoreDB(t)
	_, manager := setupRedisStores(t)
	sessions := NewRedisSessionStore(manager, zaptest.NewLogger(t))
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	tracker := NewRateLimitTracker(store, sessions, clock, zaptest.NewLogger(t))
	return tracker, store, sessions, clock
}

func TestRateLimitTracker_WindowBoundaries(t *testing.T) {
	tracker, store, _, clock := setupTracker(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, newTestAccount("acc-1", PlatformClaude)))
	require.NoError(t, tracker.MarkLimited(ctx, "acc-1", ""))

	limited, err := tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, limited)

	// 59m59s：仍在窗口内
	clock.Advance(59*time.Minute + 59*time.Second)
	limited, err = tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, limited)

	// 恰好一小时：窗口关闭
	clock.Advance(1 * time.Second)
	limited, err = tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, limited)

	// 1h01s：保持解除
	clock.Advance(1 * time.Second)
	limited, err = tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRateLimitTracker_RemarkRestartsWindow(t *testing.T) {
	tracker, store, _, clock := setupTracker(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, newTestAccount("acc-1", PlatformClaude)))
	require.NoError(t, tracker.MarkLimited(ctx, "acc-1", ""))

	// 半小时后再次标记，冷却窗口从头计
	clock.Advance(30 * time.Minute)
	require.NoError(t, tracker.MarkLimited(ctx, "acc-1", ""))

	clock.Advance(45 * time.Minute)
	limited, err := tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, limited)

	clock.Advance(15 * time.Minute)
	limited, err = tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRateLimitTracker_ClearLimited(t *testing.T) {
	tracker, store, _, _ := setupTracker(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, newTestAccount("acc-1", PlatformClaude)))
	require.NoError(t, tracker.MarkLimited(ctx, "acc-1", ""))

	require.NoError(t, tracker.ClearLimited(ctx, "acc-1"))

	limited, err := tracker.IsLimited(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, limited)

	// 重复解除与未知账号解除都安全
	require.NoError(t, tracker.ClearLimited(ctx, "acc-1"))
	require.NoError(t, tracker.ClearLimited(ctx, "ghost"))
}

func TestRateLimitTracker_MarkDropsSessionMapping(t *testing.T) {
	tracker, store, sessions, _ := setupTracker(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, newTestAccount("acc-1", PlatformClaude)))
	require.NoError(t, sessions.Set(ctx, &SessionMapping{SessionHash: "h1", AccountID: "acc-1"}, SessionTTL))

	require.NoError(t, tracker.MarkLimited(ctx, "acc-1", "h1"))

	mapping, err := sessions.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestRateLimitTracker_UnknownAccount(t *testing.T) {
	tracker, _, _, _ := setupTracker(t)
	ctx := context.Background()

	// 标记未知账号静默成功
	require.NoError(t, tracker.MarkLimited(ctx, "ghost", ""))

	limited, err := tracker.IsLimited(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, limited)
}
