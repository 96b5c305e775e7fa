// E2E 测试环境与通用辅助函数。
//
// 提供端到端测试的统一初始化与资源清理逻辑。
//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/infergate/broker"
	"github.com/BaSui01/infergate/config"
	"github.com/BaSui01/infergate/testutil/mocks"
)

// --- 测试环境 ---

// TestEnv E2E 测试环境
type TestEnv struct {
	Config  *config.Config
	Logger  *zap.Logger
	Invoker *mocks.MockInvoker
	Broker  *broker.Broker

	ctx    context.Context
	cancel context.CancelFunc
}

// --- 环境设置 ---

// NewTestEnv 创建新的测试环境
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	// 创建上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	// 加载配置并覆盖为测试用的工作负载类
	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = false
	// 熔断参数压短，便于在测试里观察打开和恢复
	cfg.Breaker = config.BreakerConfig{
		FailureRatio:     0.5,
		MinSamples:       4,
		Window:           config.Duration(2 * time.Second),
		Cooldown:         config.Duration(200 * time.Millisecond),
		SuccessesToClose: 1,
		HalfOpenMaxCalls: 1,
	}
	cfg.Classes = map[string]config.ClassConfig{
		"completion": {
			MaxConcurrency: 4,
			QueueCapacity:  64,
			RequestTimeout: config.Duration(10 * time.Second),
		},
		"embed": {
			MaxConcurrency: 2,
			QueueCapacity:  128,
			RequestTimeout: config.Duration(10 * time.Second),
			Batchable:      true,
			MaxBatchSize:   8,
			MaxBatchWait:   config.Duration(10 * time.Millisecond),
		},
	}

	logger := zap.NewNop()
	invoker := mocks.NewMockInvoker().WithResult("ok")

	b, err := broker.New(cfg, invoker,
		broker.WithLogger(logger),
		broker.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	env := &TestEnv{
		Config:  cfg,
		Logger:  logger,
		Invoker: invoker,
		Broker:  b,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.Cleanup(env.Close)
	return env
}

// Ctx 返回环境上下文
func (e *TestEnv) Ctx() context.Context { return e.ctx }

// Close 释放环境资源，可重复调用
func (e *TestEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Broker.Close(ctx)
	e.cancel()
}
