// =============================================================================
// 🚪 relaypool 命令行入口
// =============================================================================
// 单二进制提供四个命令：serve 起调度服务，migrate 管理库表，
// version 与 health 供脚本和探针使用。
//
//	relaypool serve --config /etc/relaypool/relaypool.yaml
//	relaypool migrate up
//	relaypool health --addr http://localhost:8080
// =============================================================================

// @title RelayPool API
// @version 1.0.0
// @description RelayPool is a unified account scheduler for LLM API relays with session affinity, pluggable selection strategies, and rate limit tracking.
// @description
// @description ## Features
// @description - Session affinity: sticky account mapping per conversation
// @description - Six selection strategies with Redis-backed rotation cursors
// @description - Dedicated / group / shared account resolution
// @description - Rate limit cooldown tracking with manual clearing

// @contact.name RelayPool Team
// @contact.url https://github.com/tensorgate/relaypool

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ServiceTokenAuth
// @in header
// @name X-Service-Token
// @description Service token for relay-to-scheduler calls

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tensorgate/relaypool/config"
	"github.com/tensorgate/relaypool/internal/database"
	"github.com/tensorgate/relaypool/internal/telemetry"
	"github.com/tensorgate/relaypool/internal/tlsutil"
	"github.com/tensorgate/relaypool/scheduler"
)

// 构建期通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve：调度服务
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML 配置文件路径")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("relaypool starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 链路追踪挂不上只降级，不拦启动
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without traces", zap.Error(err))
	}

	// 账户存储是调度的前提，数据库连不上就没必要起服务
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}

	// 开发场景用 AutoMigrate 兜底，生产请走 migrate 子命令
	if migrateErr := scheduler.InitDatabase(db); migrateErr != nil {
		logger.Error("schema auto-migrate failed", zap.Error(migrateErr))
	}

	server := NewServer(cfg, *configPath, logger, otelProviders, db)
	if err := server.Start(); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}

	server.WaitForShutdown()
	logger.Info("relaypool stopped")
}

// loadConfig 读取并校验配置，validator 挂在 Loader 链上
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().
		WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// =============================================================================
// 🏥 health：命令行探针
// =============================================================================

// runHealthCheck 请求 /health 并以退出码反映结果，供容器探针使用
func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "服务地址，支持 https")
	fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health probe failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health probe returned status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 version 与 help
// =============================================================================

func printVersion() {
	fmt.Printf("relaypool %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
}

func printUsage() {
	fmt.Println(`relaypool - unified account scheduler for LLM API relays

Usage:
  relaypool <command> [options]

Commands:
  serve     Run the scheduler service
  migrate   Manage the database schema (see 'relaypool migrate help')
  version   Print build information
  health    Probe a running instance over HTTP
  help      Show this message

Options for serve:
  --config <path>   YAML config file, env vars override its values

Examples:
  relaypool serve
  relaypool serve --config /etc/relaypool/relaypool.yaml
  relaypool migrate up
  relaypool health --addr https://relaypool.internal:8080`)
}

// =============================================================================
// 🔧 日志装配
// =============================================================================

// initLogger 按配置构建 zap logger。
// console 格式带彩色等级，面向本地开发；json 面向采集。
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	console := cfg.Format == "console"

	var encCfg zapcore.EncoderConfig
	encoding := "json"
	if console {
		encoding = "console"
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
