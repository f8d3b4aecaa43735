package config

import "time"

// DefaultConfig 返回一份可直接运行的完整默认配置。
// Loader 以它为底，再依次叠加 YAML 文件与环境变量。
// 未列出的字段取 Go 零值（JWT 默认关闭鉴权，Telemetry 默认不上报）。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Scheduler: SchedulerConfig{
			StrictDedicatedBinding: true,
			SelectionTimeout:       50 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "relaypool",
			Name:            "relaypool",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "relaypool",
			SampleRate:   0.1,
		},
	}
}
