package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tensorgate/relaypool/config"
	"github.com/tensorgate/relaypool/internal/ctxkeys"
	"github.com/tensorgate/relaypool/internal/metrics"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🧵 中间件骨架
// =============================================================================

// Middleware 包装下一个 handler
type Middleware func(http.Handler) http.Handler

// Chain 自外向内套叠中间件，切片首个元素位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// statusRecorder 记下下游写出的状态码与响应字节数，
// 日志、指标与追踪三个中间件共用。重复的 WriteHeader 只有首次生效。
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status != 0 {
		return
	}
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Flush 透传，保住 SSE 等流式响应
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// code 返回已写出的状态码，没写过视为 200
func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// clientIP 剥掉 RemoteAddr 的端口部分，剥不动时原样返回
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// =============================================================================
// 🛡️ 防护
// =============================================================================

// Recovery 吞掉 handler panic，记录现场后回以 500
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("handler panicked",
						zap.Any("panic", v),
						zap.String("path", r.URL.Path),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					fmt.Fprint(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders 给每个响应附上一组保守的安全头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// CORS 只给白名单内的来源下发跨域头。
// 白名单为空时任何跨域请求都拿不到 Allow-Origin；
// 预检请求：白名单内 204，携带 Origin 但不在名单内 403，无 Origin 204。
func CORS(allowedOrigins []string) Middleware {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Service-Token, Authorization")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				if origin != "" && !ok {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🔎 可观测
// =============================================================================

// requestIDKey 请求 ID 的 context 键
type requestIDKey struct{}

// RequestIDFromContext 取出当前请求的 ID，没有时返回空串
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RequestID 为每个请求补上 X-Request-ID 并注入 context，
// 客户端已携带的 ID 原样沿用，方便跨服务串联日志
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// newRequestID 生成 16 字节随机十六进制 ID
func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "req-" + hex.EncodeToString(b[:])
}

// RequestLogger 在请求完成后记一条访问日志
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			logger.Info("request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.code()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("from", clientIP(r)),
				zap.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// MetricsMiddleware 把每个请求的耗时、状态与体积喂给 Collector。
// 路径先经 normalizePath 归一，防止账户 ID 撑爆标签基数。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				rec.code(),
				time.Since(start),
				max(r.ContentLength, 0),
				rec.bytes,
			)
		})
	}
}

// OTelTracing 为每个请求开 server span，沿用入站的 trace 上下文。
// span 名与 http.route 属性使用归一化路径。
func OTelTracing() Middleware {
	tracer := otel.Tracer("relaypool/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route := normalizePath(r.URL.Path)
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLFull(r.URL.String()),
				),
			)
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.code()))
		})
	}
}

// dynamicSegment 识别形如动态 ID 的路径段：UUID、8 位以上十六进制串或纯数字
var dynamicSegment = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath 把动态路径段替换为 :id，
// 如 /api/v1/accounts/3f2c…/rate-limit 归一为 /api/v1/accounts/:id/rate-limit
func normalizePath(path string) string {
	// 固定路由直接返回
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics",
		"/api/v1/scheduler/select", "/api/v1/scheduler/stats":
		return path
	}

	segments := strings.Split(path, "/")
	replaced := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if dynamicSegment.MatchString(seg) {
			segments[i] = ":id"
			replaced = true
		}
	}
	if !replaced {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// 🔐 认证
// =============================================================================

// writeAuthError 以统一响应结构回绝请求，状态码恒为 401
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"error":{"code":"AUTHENTICATION","message":%q}}`, message)
}

// ServiceTokenAuth 校验中继实例随请求携带的 X-Service-Token。
// 未配置任何令牌时放行一切，只适合本地开发。
func ServiceTokenAuth(validTokens []string, logger *zap.Logger) Middleware {
	accepted := make(map[string]struct{}, len(validTokens))
	for _, token := range validTokens {
		accepted[token] = struct{}{}
	}
	if len(accepted) == 0 {
		logger.Warn("service token list empty, scheduler endpoints are open")
	}
	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := accepted[r.Header.Get("X-Service-Token")]; !ok {
				writeAuthError(w, "invalid or missing service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseRSAPublicKey 解析 PKIX 格式的 PEM 公钥，只接受 RSA
func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX key: %w", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA key: %T", pub)
	}
	return key, nil
}

// stringSlice 提取 claim 中的字符串数组，忽略其它类型的元素
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// JWTAuth 校验 Authorization: Bearer 里的 JWT，把 sub 与 roles
// 写入 context 供运维端点使用。支持 HS256 与 RS256 两种签名。
func JWTAuth(cfg config.JWTConfig, logger *zap.Logger) Middleware {
	var rsaKey *rsa.PublicKey
	if cfg.PublicKey != "" {
		key, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			logger.Warn("RS256 disabled", zap.Error(err))
		} else {
			rsaKey = key
		}
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 && rsaKey == nil {
		logger.Warn("jwt auth has no usable key, admin endpoints will reject everything")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	keyFor := func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(secret) == 0 {
				return nil, fmt.Errorf("HS256 key not configured")
			}
			return secret, nil
		case "RS256":
			if rsaKey == nil {
				return nil, fmt.Errorf("RS256 key not configured")
			}
			return rsaKey, nil
		default:
			return nil, fmt.Errorf("signing method %s not allowed", token.Method.Alg())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeAuthError(w, "missing bearer token")
				return
			}

			token, err := jwt.Parse(raw, keyFor, opts...)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				writeAuthError(w, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				writeAuthError(w, "unreadable claims")
				return
			}

			ctx := r.Context()
			if sub, _ := claims["sub"].(string); sub != "" {
				ctx = ctxkeys.WithOperator(ctx, sub)
			}
			if roles := stringSlice(claims["roles"]); len(roles) > 0 {
				ctx = ctxkeys.WithRoles(ctx, roles)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// ⏳ 限流
// =============================================================================

// visitorTable 按 key 维护相互独立的令牌桶，
// 3 分钟未出现的访客由后台 janitor 清走
type visitorTable struct {
	mu      sync.Mutex
	buckets map[string]*visitorBucket
	rps     rate.Limit
	burst   int
}

type visitorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newVisitorTable(ctx context.Context, rps float64, burst int) *visitorTable {
	vt := &visitorTable{
		buckets: make(map[string]*visitorBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go vt.janitor(ctx)
	return vt
}

// allow 为 key 取（或建）令牌桶并消费一枚令牌
func (vt *visitorTable) allow(key string) bool {
	vt.mu.Lock()
	b, ok := vt.buckets[key]
	if !ok {
		b = &visitorBucket{limiter: rate.NewLimiter(vt.rps, vt.burst)}
		vt.buckets[key] = b
	}
	b.lastSeen = time.Now()
	vt.mu.Unlock()
	return b.limiter.Allow()
}

func (vt *visitorTable) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * time.Minute)
			vt.mu.Lock()
			for key, b := range vt.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(vt.buckets, key)
				}
			}
			vt.mu.Unlock()
		}
	}
}

// writeTooManyRequests 统一的 429 响应
func writeTooManyRequests(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"success":false,"error":{"code":"RATE_LIMITED","message":%q}}`, message)
}

// RateLimiter 按客户端 IP 限流，ctx 结束时停止后台清理
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	table := newVisitorTable(ctx, rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !table.allow(ip) {
				logger.Debug("ip throttled", zap.String("ip", ip))
				writeTooManyRequests(w, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorRateLimiter 按 JWT 身份限流，未认证的请求退回按 IP。
// 运维自动化失控时按身份而非出口 IP 被压住。
func OperatorRateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	table := newVisitorTable(ctx, rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if operator, ok := ctxkeys.Operator(r.Context()); ok {
				key = "operator:" + operator
			}
			if !table.allow(key) {
				logger.Warn("operator throttled", zap.String("key", key))
				writeTooManyRequests(w, "operator rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
