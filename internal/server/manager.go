package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务生命周期
// =============================================================================

var (
	// ErrAlreadyStarted 重复调用 Start/StartTLS
	ErrAlreadyStarted = errors.New("server already started")
	// ErrClosed 服务器已关闭，不能再启动
	ErrClosed = errors.New("server is closed")
)

// Manager 管理 HTTP 服务器的启动、运行与优雅关闭
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config HTTP 服务器参数
type Config struct {
	Addr            string        // 监听地址，":0" 表示随机端口
	ReadTimeout     time.Duration // 读取超时
	WriteTimeout    time.Duration // 写入超时
	IdleTimeout     time.Duration // 空闲超时
	MaxHeaderBytes  int           // 最大请求头大小
	ShutdownTimeout time.Duration // 优雅关闭超时
}

// DefaultConfig 返回一组保守的服务器参数
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// NewManager 组装 Manager，此时尚未绑定端口
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// =============================================================================
// 🎯 启动与关闭
// =============================================================================

// Start 绑定端口并在后台 goroutine 中开始服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listener, err := m.listen()
	if err != nil {
		return err
	}

	m.logger.Info("http server listening", zap.String("addr", m.config.Addr))
	go m.serve(listener)

	return nil
}

// StartTLS 启动 HTTPS 服务器（非阻塞）。
// 证书在启动时加载，路径或密钥配对错误立即返回而不是等到首个握手。
func (m *Manager) StartTLS(certFile, keyFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tlsConfig := m.server.TLSConfig
	if tlsConfig == nil {
		cfg, err := tlsutil.ServerTLSConfig(certFile, keyFile)
		if err != nil {
			return err
		}
		tlsConfig = cfg
		m.server.TLSConfig = cfg
	}

	listener, err := m.listen()
	if err != nil {
		return err
	}

	m.logger.Info("https server listening",
		zap.String("addr", m.config.Addr),
		zap.String("cert", certFile),
	)
	go m.serve(tls.NewListener(listener, tlsConfig))

	return nil
}

// listen 校验状态并绑定监听端口，调用方必须持有锁
func (m *Manager) listen() (net.Listener, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.listener != nil {
		return nil, ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}

	m.listener = listener
	return listener, nil
}

func (m *Manager) serve(listener net.Listener) {
	err := m.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("http server error", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭，等待在途请求完成，时限由 ShutdownTimeout 限定。
// 幂等，重复调用直接返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	m.logger.Info("draining http server")

	drainCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(drainCtx); err != nil {
		m.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}

	m.listener = nil
	m.logger.Info("http server stopped")
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或服务异常退出，随后触发优雅关闭
func (m *Manager) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		m.logger.Info("received shutdown signal")
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("http server exited abnormally", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown failed", zap.Error(err))
	}
}

// Errors 返回服务器的异步错误通道
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 状态查询
// =============================================================================

// Addr 返回实际监听地址（支持 :0 随机端口）；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 服务器已启动且尚未关闭时返回 true
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
