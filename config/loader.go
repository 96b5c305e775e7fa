// =============================================================================
// 📦 infergate 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("INFERGATE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 infergate 的完整配置结构
type Config struct {
	// Server 网关 HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Backend 推理后端配置
	Backend BackendConfig `yaml:"backend" env:"BACKEND"`

	// Pool 后端调用协程池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Breaker 熔断器配置（所有类共享阈值，状态机按类独立）
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Classes 工作负载类配置，键为类名
	Classes map[string]ClassConfig `yaml:"classes" env:"-"`
}

// ServerConfig 网关服务器配置
type ServerConfig struct {
	// Addr 监听地址
	Addr string `yaml:"addr" env:"ADDR"`

	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// RateLimit 每秒请求数限制（0 表示不限制）
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`

	// RateBurst 限流突发容量
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别: debug / info / warn / error
	Level string `yaml:"level" env:"LEVEL"`

	// Development 开发模式（彩色控制台输出）
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// TelemetryConfig OpenTelemetry 配置
type TelemetryConfig struct {
	// Enabled 是否启用遥测导出
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// ServiceName 服务名
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// OTLPEndpoint OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`

	// SampleRate 采样率 (0-1)
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// BackendConfig 推理后端配置
type BackendConfig struct {
	// BaseURL 后端地址（OpenAI 兼容 API）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// APIKey 可选的鉴权密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// CompletionModel 非批量调用使用的模型名
	CompletionModel string `yaml:"completion_model" env:"COMPLETION_MODEL"`

	// EmbeddingModel 批量调用使用的模型名
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`

	// Timeout 单次后端调用超时
	Timeout Duration `yaml:"timeout" env:"TIMEOUT"`

	// Routes 类到端点的映射: completions / embeddings
	Routes map[string]string `yaml:"routes" env:"-"`

	// TokenEncoding 批量 token 预算使用的 tiktoken 编码
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// PoolConfig 后端调用协程池配置
type PoolConfig struct {
	MaxWorkers int           `yaml:"max_workers" env:"MAX_WORKERS"`
	QueueSize  int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	IdleTimeout Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureRatio     float64       `yaml:"failure_ratio" env:"FAILURE_RATIO"`
	MinSamples       int           `yaml:"min_samples" env:"MIN_SAMPLES"`
	Window           Duration      `yaml:"window" env:"WINDOW"`
	Cooldown         Duration      `yaml:"cooldown" env:"COOLDOWN"`
	SuccessesToClose int           `yaml:"successes_to_close" env:"SUCCESSES_TO_CLOSE"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// ClassConfig 单个工作负载类的准入/排队/批量策略。
// 实例创建后不可变更（按 broker 实例固化）。
type ClassConfig struct {
	// MaxConcurrency 同时在途后端调用数上限
	MaxConcurrency int `yaml:"max_concurrency"`

	// QueueCapacity 等待队列容量，满载后新提交立即拒绝
	QueueCapacity int `yaml:"queue_capacity"`

	// Batchable 是否允许多 payload 合并为一次后端调用
	Batchable bool `yaml:"batchable"`

	// MaxBatchSize 批量窗口成员数上限（仅 Batchable 有效）
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxBatchWait 批量窗口等待时间上限（仅 Batchable 有效）
	MaxBatchWait Duration `yaml:"max_batch_wait"`

	// MaxBatchTokens 批量窗口 token 预算，0 表示不限制（仅 Batchable 有效）
	MaxBatchTokens int `yaml:"max_batch_tokens"`

	// RequestTimeout 排队等待超时，超过后请求以 TIMED_OUT 终结
	RequestTimeout Duration `yaml:"request_timeout"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "INFERGATE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration / config.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) || field.Type() == reflect.TypeOf(Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if len(c.Classes) == 0 {
		errs = append(errs, "at least one workload class must be configured")
	}

	for name, cc := range c.Classes {
		if cc.MaxConcurrency <= 0 {
			errs = append(errs, fmt.Sprintf("class %q: max_concurrency must be positive", name))
		}
		if cc.QueueCapacity <= 0 {
			errs = append(errs, fmt.Sprintf("class %q: queue_capacity must be positive", name))
		}
		if cc.RequestTimeout <= 0 {
			errs = append(errs, fmt.Sprintf("class %q: request_timeout must be positive", name))
		}
		if cc.Batchable {
			if cc.MaxBatchSize <= 0 {
				errs = append(errs, fmt.Sprintf("class %q: max_batch_size must be positive for batchable class", name))
			}
			if cc.MaxBatchWait <= 0 {
				errs = append(errs, fmt.Sprintf("class %q: max_batch_wait must be positive for batchable class", name))
			}
		} else {
			if cc.MaxBatchSize != 0 || cc.MaxBatchWait != 0 || cc.MaxBatchTokens != 0 {
				errs = append(errs, fmt.Sprintf("class %q: batch settings are only meaningful for batchable classes", name))
			}
		}
	}

	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		errs = append(errs, "breaker failure_ratio must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
