// =============================================================================
// 🚀 infergate 性能基准测试
// =============================================================================
// 覆盖关键路径的性能测试，包括：
// - Submit/Wait 单请求往返
// - 动态批处理吞吐
// - 多 goroutine 并发提交
// - Token 成本函数
//
// 运行方式:
//   go test -bench=. -benchmem ./tests/benchmark/...
//   go test -bench=BenchmarkSubmit -benchmem ./tests/benchmark/...
// =============================================================================

package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/infergate/backend"
	"github.com/BaSui01/infergate/broker"
	"github.com/BaSui01/infergate/config"
)

// echoInvoker 原样返回 payload，用于测量 broker 自身的开销
var echoInvoker = backend.InvokerFunc(func(ctx context.Context, req *backend.InvokeRequest) (*backend.InvokeResponse, error) {
	results := make([]backend.Result, len(req.Payloads))
	for i, p := range req.Payloads {
		results[i] = backend.Result{Value: p}
	}
	return &backend.InvokeResponse{Results: results}, nil
})

func newBenchBroker(b *testing.B, classes map[string]config.ClassConfig) *broker.Broker {
	b.Helper()
	cfg := config.DefaultConfig()
	cfg.Classes = classes
	br, err := broker.New(cfg, echoInvoker,
		broker.WithLogger(zap.NewNop()),
		broker.WithRegisterer(prometheus.NewRegistry()),
	)
	if err != nil {
		b.Fatalf("创建 broker 失败: %v", err)
	}
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		br.Close(ctx)
	})
	return br
}

// =============================================================================
// 📨 Submit 路径 Benchmarks
// =============================================================================

// BenchmarkSubmitWait_Sequential 测试单请求提交到解析的完整往返
func BenchmarkSubmitWait_Sequential(b *testing.B) {
	br := newBenchBroker(b, map[string]config.ClassConfig{
		"bench": {
			MaxConcurrency: 8,
			QueueCapacity:  1024,
			RequestTimeout: config.Duration(30 * time.Second),
		},
	})
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		handle, err := br.Submit(ctx, "bench", "payload")
		if err != nil {
			b.Fatalf("提交失败: %v", err)
		}
		if _, err := handle.Wait(ctx); err != nil {
			b.Fatalf("请求失败: %v", err)
		}
	}
}

// BenchmarkSubmitWait_Parallel 测试多 goroutine 并发提交
func BenchmarkSubmitWait_Parallel(b *testing.B) {
	br := newBenchBroker(b, map[string]config.ClassConfig{
		"bench": {
			MaxConcurrency: 16,
			QueueCapacity:  4096,
			RequestTimeout: config.Duration(30 * time.Second),
		},
	})
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			handle, err := br.Submit(ctx, "bench", "payload")
			if err != nil {
				b.Fatalf("提交失败: %v", err)
			}
			if _, err := handle.Wait(ctx); err != nil {
				b.Fatalf("请求失败: %v", err)
			}
		}
	})
}

// BenchmarkSubmitWait_Batched 测试批处理路径的吞吐
func BenchmarkSubmitWait_Batched(b *testing.B) {
	br := newBenchBroker(b, map[string]config.ClassConfig{
		"embed": {
			MaxConcurrency: 8,
			QueueCapacity:  4096,
			RequestTimeout: config.Duration(30 * time.Second),
			Batchable:      true,
			MaxBatchSize:   32,
			MaxBatchWait:   config.Duration(time.Millisecond),
		},
	})
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			handle, err := br.Submit(ctx, "embed", "doc")
			if err != nil {
				b.Fatalf("提交失败: %v", err)
			}
			if _, err := handle.Wait(ctx); err != nil {
				b.Fatalf("请求失败: %v", err)
			}
		}
	})
}

// BenchmarkSubmit_MixedPriorities 测试不同优先级混合提交
func BenchmarkSubmit_MixedPriorities(b *testing.B) {
	br := newBenchBroker(b, map[string]config.ClassConfig{
		"bench": {
			MaxConcurrency: 8,
			QueueCapacity:  8192,
			RequestTimeout: config.Duration(30 * time.Second),
		},
	})
	ctx := context.Background()
	priorities := []broker.Priority{
		broker.PriorityLow, broker.PriorityNormal,
		broker.PriorityHigh, broker.PriorityCritical,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		handle, err := br.Submit(ctx, "bench", i, broker.WithPriority(priorities[i%len(priorities)]))
		if err != nil {
			b.Fatalf("提交失败: %v", err)
		}
		if _, err := handle.Wait(ctx); err != nil {
			b.Fatalf("请求失败: %v", err)
		}
	}
}

// =============================================================================
// 🔢 Token 成本 Benchmarks
// =============================================================================

// BenchmarkTiktokenCost 测试 tiktoken 成本函数的估算开销
func BenchmarkTiktokenCost(b *testing.B) {
	cost := backend.NewTiktokenCost("cl100k_base")
	payload := "The quick brown fox jumps over the lazy dog. 敏捷的棕色狐狸跳过了懒狗。"

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if cost.Cost(payload) <= 0 {
			b.Fatal("成本应为正数")
		}
	}
}

// BenchmarkSnapshot 测试运行时快照的开销
func BenchmarkSnapshot(b *testing.B) {
	classes := make(map[string]config.ClassConfig, 8)
	for i := 0; i < 8; i++ {
		classes[fmt.Sprintf("class-%d", i)] = config.ClassConfig{
			MaxConcurrency: 4,
			QueueCapacity:  64,
			RequestTimeout: config.Duration(30 * time.Second),
		}
	}
	br := newBenchBroker(b, classes)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if len(br.Snapshot()) != 8 {
			b.Fatal("快照类数量不符")
		}
	}
}
