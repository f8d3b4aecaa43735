// =============================================================================
// 📦 RelayPool 配置加载器
// =============================================================================
// 先取默认值，再叠加 YAML 文件，最后由环境变量覆盖
//
// 用法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("relaypool.yaml").
//	    WithValidator(func(c *config.Config) error { return c.Validate() }).
//	    Load()
//
// 环境变量名由前缀和 env tag 逐层拼接，
// 如 RELAYPOOL_SERVER_HTTP_PORT 对应 Server.HTTPPort
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 配置结构
// =============================================================================

// Config 是 relaypool 的完整配置结构
type Config struct {
	// Server HTTP 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Scheduler 账户调度配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Redis 缓存配置（会话映射、策略游标、使用计数）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（账户与分组存储）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// JWT 管理接口认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Log 日志输出配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTLP 上报配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务与入口防护参数
type ServerConfig struct {
	// 业务 API 监听端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus 抓取端口，与业务端口分开
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 单个请求的读超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 单个请求的写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 收到退出信号后等待连接排空的时长
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每 IP 限流（请求/秒）
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许跨域的来源列表（为空则拒绝跨域）
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 服务间调用令牌（relay → scheduler），为空则跳过认证
	ServiceTokens []string `yaml:"service_tokens" env:"SERVICE_TOKENS"`
	// 是否以 HTTPS 对外服务
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
	// TLS 证书文件路径
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	// TLS 私钥文件路径
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// SchedulerConfig 账户调度配置
type SchedulerConfig struct {
	// StrictDedicatedBinding 专属绑定严格模式：
	// true  = 专属账户不可用时直接返回错误；
	// false = 回退到共享池调度。
	StrictDedicatedBinding bool `yaml:"strict_dedicated_binding" env:"STRICT_DEDICATED_BINDING"`
	// SelectionTimeout 单次选择的软超时（策略存储调用的预算）
	SelectionTimeout time.Duration `yaml:"selection_timeout" env:"SELECTION_TIMEOUT"`
}

// RedisConfig 会话与计数存储的连接参数
type RedisConfig struct {
	// 地址（host:port）
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码，为空表示无认证
	Password string `yaml:"password" env:"PASSWORD"`
	// 逻辑库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池上限
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 保活的最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS（托管 Redis 服务通常要求）
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig 账户存储的连接参数
type DatabaseConfig struct {
	// postgres、mysql 或 sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// postgres 的 sslmode 参数
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 连接数上限
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 空闲连接上限
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 单条连接的最长复用时间
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// JWTConfig 管理接口 JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥（HS256）
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥 PEM（RS256，可选）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发者（可选）
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众（可选）
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// LogConfig zap 日志参数
type LogConfig struct {
	// debug、info、warn 或 error
	Level string `yaml:"level" env:"LEVEL"`
	// json 或 console
	Format string `yaml:"format" env:"FORMAT"`
	// 写入目标，支持 stdout、stderr 或文件路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 在日志中记录调用位置
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// error 及以上级别附带堆栈
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 上报参数
type TelemetryConfig struct {
	// 为 false 时不初始化 OTel
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 收集端地址
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 上报用的服务名
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 头部采样比例，0 到 1
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 加载器
// =============================================================================

// Loader 链式装配的配置加载器
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 返回环境变量前缀为 RELAYPOOL 的加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "RELAYPOOL",
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀（默认 RELAYPOOL）
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加一个验证器，在 Load 的最后阶段执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 按默认值、YAML 文件、环境变量的顺序装配配置，
// 再依次执行注册的验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.applyFile(cfg); err != nil {
		return nil, fmt.Errorf("apply config file: %w", err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	return cfg, nil
}

// applyFile 叠加 YAML 文件内容；未指定路径或文件不存在时跳过
func (l *Loader) applyFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyEnv 用环境变量覆盖配置字段
func (l *Loader) applyEnv(cfg *Config) error {
	return l.overrideFields(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// overrideFields 按 env tag 递归遍历结构体，存在对应环境变量时覆盖字段
func (l *Loader) overrideFields(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}

		key := prefix + "_" + tag
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := l.overrideFields(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("parse env %s: %w", key, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 把字符串按字段类型解析后写入；time.Duration 字段
// 使用 time.ParseDuration 语法（如 "50ms"、"5m"）
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem())
		}
		field.Set(reflect.ValueOf(splitCommaList(value)))

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// splitCommaList 解析逗号分隔的列表，修剪空白并丢弃空项
func splitCommaList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 配置验证
// =============================================================================

// Validate 聚合检查端口、超时与枚举字段，一次性报出全部问题
func (c *Config) Validate() error {
	var errs []string

	// 端口与 TLS
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "http_port out of range")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "metrics_port out of range")
	}
	if c.Server.HTTPPort == c.Server.MetricsPort {
		errs = append(errs, "HTTP port and metrics port must differ")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file are required when TLS is enabled")
	}

	// 验证调度配置
	if c.Scheduler.SelectionTimeout <= 0 {
		errs = append(errs, "selection_timeout must be positive")
	}

	// 验证数据库配置
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite", "":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver: %s", c.Database.Driver))
	}

	// 验证日志配置
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level: %s", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 按驱动拼出 gorm 可用的连接串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
