// MockInvoker 的推理后端测试模拟实现。
//
// 支持固定响应、延迟注入、错误注入与调用记录场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/infergate/backend"
)

// MockInvokerCall 记录单次后端调用
type MockInvokerCall struct {
	Class    string
	Payloads []any
	At       time.Time
}

// MockInvoker 是 backend.Invoker 的模拟实现
type MockInvoker struct {
	mu sync.Mutex

	// 响应配置
	result any
	err    error

	// 行为控制
	delay      time.Duration // 模拟后端耗时
	failAfter  int           // 第 N 次调用起开始失败（0 表示不启用）
	callCount  int
	invokeFunc func(ctx context.Context, req *backend.InvokeRequest) (*backend.InvokeResponse, error)

	// 调用记录
	calls []MockInvokerCall

	// block 非 nil 时每次调用阻塞等待该通道，用于压住槽位
	block chan struct{}
}

// NewMockInvoker 创建默认模拟后端，每个 payload 回显 "ok"
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{result: "ok"}
}

// WithResult 设置每个 payload 的固定返回值
func (m *MockInvoker) WithResult(v any) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = v
	return m
}

// WithError 设置整体调用错误
func (m *MockInvoker) WithError(err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置每次调用的模拟耗时
func (m *MockInvoker) WithDelay(d time.Duration) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 从第 n 次调用起返回错误
func (m *MockInvoker) WithFailAfter(n int, err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.err = err
	return m
}

// WithInvokeFunc 完全自定义调用行为
func (m *MockInvoker) WithInvokeFunc(fn func(ctx context.Context, req *backend.InvokeRequest) (*backend.InvokeResponse, error)) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeFunc = fn
	return m
}

// Block 让后续调用阻塞，直到 Release 被调用。用于测试中压满并发槽位。
func (m *MockInvoker) Block() *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
	return m
}

// Release 放行所有被 Block 阻塞的调用
func (m *MockInvoker) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block != nil {
		close(m.block)
		m.block = nil
	}
}

// Invoke 实现 backend.Invoker
func (m *MockInvoker) Invoke(ctx context.Context, req *backend.InvokeRequest) (*backend.InvokeResponse, error) {
	m.mu.Lock()
	m.callCount++
	count := m.callCount
	m.calls = append(m.calls, MockInvokerCall{
		Class:    req.Class,
		Payloads: append([]any(nil), req.Payloads...),
		At:       time.Now(),
	})
	delay := m.delay
	fn := m.invokeFunc
	block := m.block
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// 错误与结果在阻塞结束后再取，测试可以在放行前改写行为
	m.mu.Lock()
	failAfter := m.failAfter
	err := m.err
	result := m.result
	m.mu.Unlock()
	if err != nil && (failAfter == 0 || count >= failAfter) {
		return nil, err
	}

	results := make([]backend.Result, len(req.Payloads))
	for i := range req.Payloads {
		results[i] = backend.Result{Value: result}
	}
	return &backend.InvokeResponse{Results: results}, nil
}

// CallCount 返回累计调用次数
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls 返回调用记录的副本
func (m *MockInvoker) Calls() []MockInvokerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockInvokerCall(nil), m.calls...)
}

// AllPayloads 展平返回全部调用收到的 payload，按调用顺序排列
func (m *MockInvoker) AllPayloads() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []any
	for _, c := range m.calls {
		all = append(all, c.Payloads...)
	}
	return all
}

// Reset 清空调用记录与计数
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
}
