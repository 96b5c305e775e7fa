// Package broker 实现推理后端前的并发准入代理：
// 按工作负载类别做准入控制、有界优先级排队、动态批量聚合与熔断保护。
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/infergate/backend"
	"github.com/BaSui01/infergate/circuitbreaker"
	"github.com/BaSui01/infergate/config"
	"github.com/BaSui01/infergate/internal/metrics"
	"github.com/BaSui01/infergate/internal/pool"
	"github.com/BaSui01/infergate/types"
)

// workloadClass 汇聚一个类别的全部派发状态。policy 在 Broker 生命周期内只读。
type workloadClass struct {
	name   string
	policy config.ClassConfig

	gate    *admissionGate
	queue   *classQueue
	breaker *circuitbreaker.Breaker

	// windowMu 守护 openWindow 指针本身；窗口内部另有自己的锁。
	windowMu   sync.Mutex
	openWindow *batchWindow

	// wake 容量为 1 的合并唤醒信号：入队、槽位释放、取消、熔断状态变更。
	wake chan struct{}
}

func (c *workloadClass) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// currentWindow 返回当前打开的聚合窗口，可能为 nil。
func (c *workloadClass) currentWindow() *batchWindow {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	return c.openWindow
}

func (c *workloadClass) setWindow(w *batchWindow) {
	c.windowMu.Lock()
	c.openWindow = w
	c.windowMu.Unlock()
}

// Broker 并发受控的请求代理。显式实例，无包级全局状态。
type Broker struct {
	cfg     *config.Config
	invoker backend.Invoker
	logger  *zap.Logger
	metrics *metrics.Collector
	obs     *observer
	clock   func() time.Time
	costFn  backend.CostFunc

	classes  map[string]*workloadClass
	requests sync.Map // request ID -> *Request

	pool *pool.InvocationPool

	mu     sync.Mutex
	closed bool

	// ctx 控制泵协程；taskCtx 控制在途后端调用，
	// 仅当 Close 等待超限时才被取消
	ctx        context.Context
	cancel     context.CancelFunc
	taskCtx    context.Context
	taskCancel context.CancelFunc
	group      *errgroup.Group
	inflight   sync.WaitGroup
}

// Option 构造期可选项
type Option func(*Broker)

// WithLogger 注入日志器
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithRegisterer 注入 Prometheus 注册器（测试隔离用），nil 走默认注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Broker) { b.metrics = metrics.NewCollector("infergate", reg, b.logger) }
}

// WithCostFunc 注入批量 token 预算的开销估算函数
func WithCostFunc(fn backend.CostFunc) Option {
	return func(b *Broker) { b.costFn = fn }
}

// WithClock 注入时钟，仅测试用
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) { b.clock = clock }
}

// New 依据配置构建 Broker 并启动各类别的泵协程。
// 类别策略在实例生命周期内不可变，调整需重建实例。
func New(cfg *config.Config, invoker backend.Invoker, opts ...Option) (*Broker, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "nil config")
	}
	if invoker == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "nil invoker")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:     cfg,
		invoker: invoker,
		logger:  zap.NewNop(),
		clock:   time.Now,
		classes: make(map[string]*workloadClass, len(cfg.Classes)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "broker"))
	if b.metrics == nil {
		b.metrics = metrics.NewCollector("infergate", nil, b.logger)
	}
	b.obs = newObserver(b.logger)

	// 池容量覆盖全部类别的并发上限之和，正常路径不会触发 ErrPoolFull 回退
	maxInflight := 0
	for name, cc := range cfg.Classes {
		cls := &workloadClass{
			name:   name,
			policy: cc,
			gate:   newAdmissionGate(cc.MaxConcurrency),
			queue:  newClassQueue(cc.QueueCapacity),
			wake:   make(chan struct{}, 1),
		}
		cls.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureRatio:     cfg.Breaker.FailureRatio,
			MinSamples:       cfg.Breaker.MinSamples,
			Window:           cfg.Breaker.Window.Std(),
			Cooldown:         cfg.Breaker.Cooldown.Std(),
			SuccessesToClose: cfg.Breaker.SuccessesToClose,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			Clock:            b.clock,
			OnStateChange: func(from, to circuitbreaker.State) {
				b.metrics.SetCircuitState(name, int(to))
				b.logger.Warn("熔断器状态变更",
					zap.String("class", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				cls.notify()
			},
		}, b.logger)
		b.classes[name] = cls
		maxInflight += cc.MaxConcurrency
	}

	poolCfg := pool.Config{
		MaxWorkers:  cfg.Pool.MaxWorkers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout.Std(),
		PanicHandler: func(v any) {
			b.logger.Error("后端调用 panic", zap.Any("panic", v))
		},
	}
	if poolCfg.MaxWorkers < maxInflight {
		poolCfg.MaxWorkers = maxInflight
	}
	b.pool = pool.New(poolCfg)

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.taskCtx, b.taskCancel = context.WithCancel(context.Background())
	b.group, _ = errgroup.WithContext(b.ctx)
	for _, cls := range b.classes {
		cls := cls
		b.group.Go(func() error {
			b.runPump(cls)
			return nil
		})
	}
	return b, nil
}

// SubmitOption 单次提交可选项
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority Priority
	timeout  time.Duration
}

// WithPriority 指定请求优先级，默认 PriorityNormal
func WithPriority(p Priority) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}

// WithTimeout 覆盖类别默认的请求超时
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

// Submit 提交一个请求。绝不阻塞：容量不足、熔断打开等失败
// 全部通过返回的 handle 立即解析，仅未知类别作为编程错误同步返回。
func (b *Broker) Submit(ctx context.Context, class string, payload any, opts ...SubmitOption) (*Handle, error) {
	cls, ok := b.classes[class]
	if !ok {
		return nil, types.NewError(types.ErrUnknownClass, fmt.Sprintf("unknown workload class %q", class)).WithClass(class)
	}

	so := submitOptions{
		priority: PriorityNormal,
		timeout:  cls.policy.RequestTimeout.Std(),
	}
	for _, opt := range opts {
		opt(&so)
	}

	now := b.clock()
	cost := 0
	if cls.policy.Batchable && cls.policy.MaxBatchTokens > 0 && b.costFn != nil {
		cost = b.costFn(payload)
	}
	r := newRequest(class, payload, so.priority, now, so.timeout, cost)
	b.metrics.RecordSubmission(class)
	b.obs.submitted(ctx, class)

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		r.handle.complete(nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(class))
		b.metrics.RecordOutcome(class, "rejected")
		return r.handle, nil
	}

	// 冷却期内的熔断打开态直接快速失败；冷却结束后恢复排队，
	// 留给半开试探放行
	if cls.breaker.FailingFast() {
		r.handle.complete(nil, types.BackendUnavailable(class))
		b.metrics.RecordOutcome(class, "unavailable")
		return r.handle, nil
	}

	b.requests.Store(r.ID, r)
	if !cls.queue.push(r) {
		b.requests.Delete(r.ID)
		r.handle.complete(nil, types.QueueFull(class))
		b.metrics.RecordOutcome(class, "queue_full")
		return r.handle, nil
	}
	b.metrics.SetQueued(class, cls.queue.len())

	// 与 Close 的排空并发竞争时把自己捞回来，避免滞留
	b.mu.Lock()
	closedNow := b.closed
	b.mu.Unlock()
	if closedNow {
		if removed := cls.queue.remove(r.ID); removed != nil {
			b.finish(removed, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(class), "rejected")
			return r.handle, nil
		}
	}
	cls.notify()
	return r.handle, nil
}

// Cancel 取消请求。仍在排队或窗口内：摘除并解析 Cancelled；
// 已派发：立即解析 Cancelled，后端调用结果到达后被丢弃，
// 槽位在其返回时照常释放。对已解析的请求为无操作。
func (b *Broker) Cancel(id string) {
	v, ok := b.requests.Load(id)
	if !ok {
		return
	}
	r := v.(*Request)
	cls := b.classes[r.Class]

	if removed := cls.queue.remove(id); removed != nil {
		b.finish(removed, nil, types.Cancelled(r.Class), "cancelled")
		b.metrics.SetQueued(r.Class, cls.queue.len())
		return
	}
	if w := cls.currentWindow(); w != nil {
		if removed := w.remove(id); removed != nil {
			b.finish(removed, nil, types.Cancelled(r.Class), "cancelled")
			b.metrics.SetBatchWindowSize(r.Class, w.size())
			return
		}
	}
	// 已派发在途：解析即生效，不中断后端调用
	b.finish(r, nil, types.Cancelled(r.Class), "cancelled")
}

// ClassSnapshot 单个类别的观测快照
type ClassSnapshot struct {
	Queued          int    `json:"queued"`
	Active          int    `json:"active"`
	BatchWindowSize int    `json:"batch_window_size"`
	CircuitState    string `json:"circuit_state"`
}

// Snapshot 返回全部类别的当前状态
func (b *Broker) Snapshot() map[string]ClassSnapshot {
	out := make(map[string]ClassSnapshot, len(b.classes))
	for name, cls := range b.classes {
		snap := ClassSnapshot{
			Queued:       cls.queue.len(),
			Active:       cls.gate.activeCount(),
			CircuitState: cls.breaker.State().String(),
		}
		if w := cls.currentWindow(); w != nil {
			snap.BatchWindowSize = w.size()
		}
		out[name] = snap
	}
	return out
}

// Close 停止接收新请求，快速失败所有排队请求，
// 并在 ctx 限定内等待在途后端调用结束。
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for name, cls := range b.classes {
		for _, r := range cls.queue.drain() {
			b.finish(r, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(name), "rejected")
		}
		if w := cls.currentWindow(); w != nil {
			for _, r := range w.take() {
				b.finish(r, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(name), "rejected")
			}
		}
		b.metrics.SetQueued(name, 0)
		b.metrics.SetBatchWindowSize(name, 0)
	}

	b.cancel()
	done := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		// 泵退出后再清一遍，兜住正处于泵交接中的请求
		for name, cls := range b.classes {
			for _, r := range cls.queue.drain() {
				b.finish(r, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(name), "rejected")
			}
			if w := cls.currentWindow(); w != nil {
				for _, r := range w.take() {
					b.finish(r, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(name), "rejected")
				}
			}
		}
		b.inflight.Wait()
		b.pool.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.taskCancel()
		return ctx.Err()
	}
}

// finish 恰好一次地解析请求并记录终态。竞争失败（已被解析）时为无操作。
func (b *Broker) finish(r *Request, value any, err error, outcome string) {
	if !r.handle.complete(value, err) {
		return
	}
	b.requests.Delete(r.ID)
	b.metrics.RecordOutcome(r.Class, outcome)
	b.obs.resolved(r.Class, outcome)
}
