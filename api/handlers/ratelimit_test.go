package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tensorgate/relaypool/scheduler"
)

// newRateLimitMux 注册带路径参数的路由，让 PathValue 生效
func newRateLimitMux(h *RateLimitHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/accounts/{id}/rate-limit", h.HandleMark)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}/rate-limit", h.HandleClear)
	return mux
}

func seedRoundRobinAccount(t *testing.T, store *scheduler.GormStore, id string) {
	t.Helper()

	acc := &scheduler.Account{
		ID:          id,
		Platform:    scheduler.PlatformClaude,
		Name:        "account " + id,
		IsActive:    true,
		Schedulable: true,
		Priority:    50,
		Weight:      1,
		Strategy:    scheduler.StrategyRoundRobin,
	}
	require.NoError(t, store.CreateAccount(context.Background(), acc))
}

// =============================================================================
// 🧪 RateLimitHandler 测试
// =============================================================================

func TestRateLimitHandler_MarkThenClear(t *testing.T) {
	svc, store := newTestScheduler(t)
	mux := newRateLimitMux(NewRateLimitHandler(svc, zaptest.NewLogger(t)))
	ctx := context.Background()

	seedRoundRobinAccount(t, store, "a")

	// 标记限流
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a/rate-limit", nil)
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	// 唯一账户被限流后池为空
	_, err := svc.Select(ctx, scheduler.RequestContext{Platform: scheduler.PlatformClaude})
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrNoAvailableAccounts)

	// 解除限流
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/a/rate-limit", nil)
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	sel, err := svc.Select(ctx, scheduler.RequestContext{Platform: scheduler.PlatformClaude})
	require.NoError(t, err)
	assert.Equal(t, "a", sel.AccountID)
}

func TestRateLimitHandler_MarkRemapsSession(t *testing.T) {
	svc, store := newTestScheduler(t)
	mux := newRateLimitMux(NewRateLimitHandler(svc, zaptest.NewLogger(t)))
	ctx := context.Background()

	seedRoundRobinAccount(t, store, "a")
	seedRoundRobinAccount(t, store, "b")

	req := scheduler.RequestContext{Platform: scheduler.PlatformClaude, SessionHash: "sess-1"}

	first, err := svc.Select(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "a", first.AccountID)

	// 上游 429：标记 a 并解除该会话的亲和映射
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a/rate-limit",
		bytes.NewBufferString(`{"session_hash":"sess-1"}`))
	r.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	// 会话改道到未限流的账户
	second, err := svc.Select(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "b", second.AccountID)
	assert.False(t, second.StickyHit)
}

func TestRateLimitHandler_MarkUnknownAccountIsIdempotent(t *testing.T) {
	svc, _ := newTestScheduler(t)
	mux := newRateLimitMux(NewRateLimitHandler(svc, zaptest.NewLogger(t)))

	// 标记不存在的账户静默成功（窄幅幂等写入）
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/ghost/rate-limit", nil)
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitHandler_MissingAccountID(t *testing.T) {
	svc, _ := newTestScheduler(t)
	handler := NewRateLimitHandler(svc, zaptest.NewLogger(t))

	// 不经过 mux：PathValue 为空且路径段为空
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts//rate-limit", nil)
	handler.HandleMark(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(scheduler.CodeInvalidRequest), resp.Error.Code)
}

func TestRateLimitHandler_FallbackPathParsing(t *testing.T) {
	svc, store := newTestScheduler(t)
	handler := NewRateLimitHandler(svc, zaptest.NewLogger(t))

	seedRoundRobinAccount(t, store, "acc-9")

	// 不经过 mux 注册路径参数，走手动路径解析
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acc-9/rate-limit", nil)
	handler.HandleMark(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	_, err := svc.Select(context.Background(), scheduler.RequestContext{Platform: scheduler.PlatformClaude})
	assert.ErrorIs(t, err, scheduler.ErrNoAvailableAccounts)
}

func TestRateLimitHandler_MarkRejectsUnknownFields(t *testing.T) {
	svc, store := newTestScheduler(t)
	mux := newRateLimitMux(NewRateLimitHandler(svc, zaptest.NewLogger(t)))

	seedRoundRobinAccount(t, store, "a")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a/rate-limit",
		bytes.NewBufferString(`{"bogus":1}`))
	r.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitHandler_MethodNotAllowed(t *testing.T) {
	svc, _ := newTestScheduler(t)
	handler := NewRateLimitHandler(svc, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a/rate-limit", nil)
	handler.HandleMark(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a/rate-limit", nil)
	handler.HandleClear(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
