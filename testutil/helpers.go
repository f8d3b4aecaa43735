// =============================================================================
// 🧪 测试基建
// =============================================================================
// 提供通用的测试上下文与异步断言
//
// 用法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, queueDrained, time.Second)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 在 t.Context 之上叠加 30 秒超时，卡住的用例会先于
// go test 的整体超时失败
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文，用于验证调用方对取消的处理
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 异步断言
// =============================================================================

// AssertEventuallyTrue 轮询等待条件满足，超时则测试失败
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-deadline:
			t.Errorf("condition not met within %v", timeout)
			return
		case <-tick.C:
		}
	}
}
