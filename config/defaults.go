// =============================================================================
// 📦 infergate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Backend:   DefaultBackendConfig(),
		Pool:      DefaultPoolConfig(),
		Breaker:   DefaultBreakerConfig(),
		Classes:   DefaultClasses(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8081",
		ShutdownTimeout: Duration(15 * time.Second),
		RateLimit:       100,
		RateBurst:       200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Development: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "infergate",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
	}
}

// DefaultBackendConfig 返回默认后端配置
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:         "http://127.0.0.1:8080",
		CompletionModel: "default",
		Timeout:         Duration(120 * time.Second),
		Routes: map[string]string{
			"completion": "completions",
			"embedding":  "embeddings",
		},
		TokenEncoding: "cl100k_base",
	}
}

// DefaultPoolConfig 返回默认协程池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:  32,
		QueueSize:   256,
		IdleTimeout: Duration(60 * time.Second),
	}
}

// DefaultBreakerConfig 返回默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRatio:     0.5,
		MinSamples:       10,
		Window:           Duration(30 * time.Second),
		Cooldown:         Duration(15 * time.Second),
		SuccessesToClose: 3,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultClasses 返回默认工作负载类配置。
// 并发上限按本地推理服务（llama.cpp server --parallel 4）的典型容量取值。
func DefaultClasses() map[string]ClassConfig {
	return map[string]ClassConfig{
		"completion": {
			MaxConcurrency: 2,
			QueueCapacity:  64,
			RequestTimeout: Duration(60 * time.Second),
		},
		"embedding": {
			MaxConcurrency: 2,
			QueueCapacity:  256,
			Batchable:      true,
			MaxBatchSize:   32,
			MaxBatchWait:   Duration(50 * time.Millisecond),
			RequestTimeout: Duration(30 * time.Second),
		},
	}
}
