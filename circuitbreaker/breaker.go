package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，快速失败）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureRatio 滚动窗口内失败占比阈值，超过则熔断
	FailureRatio float64 `yaml:"failure_ratio"`

	// MinSamples 触发熔断所需的最小样本数（避免低流量误判）
	MinSamples int `yaml:"min_samples"`

	// Window 失败率统计的滚动窗口长度
	Window time.Duration `yaml:"window"`

	// Cooldown 熔断冷却时间（Open -> HalfOpen）
	Cooldown time.Duration `yaml:"cooldown"`

	// SuccessesToClose 半开状态下恢复所需的连续成功次数
	SuccessesToClose int `yaml:"successes_to_close"`

	// HalfOpenMaxCalls 半开状态下允许同时在途的试探请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State) `yaml:"-"`

	// Clock 仅测试用，默认 time.Now
	Clock func() time.Time `yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureRatio:     0.5,
		MinSamples:       10,
		Window:           30 * time.Second,
		Cooldown:         15 * time.Second,
		SuccessesToClose: 3,
		HalfOpenMaxCalls: 1,
	}
}

// ErrOpen 熔断器打开时 Allow 拒绝放行
var ErrOpen = errors.New("circuit breaker open")

// bucketCount 滚动窗口分桶数
const bucketCount = 10

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker 按工作负载类持有的熔断器。记录动作由 dispatcher 驱动：
// Allow 判定是否放行，RecordSuccess / RecordFailure 回填调用结果。
// 与执行调用本身解耦，因为后端调用的所有权在 dispatcher。
type Breaker struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	buckets          [bucketCount]bucket
	openedAt         time.Time
	halfOpenInflight int
	halfOpenSucceeds int
}

// New 创建熔断器，零值字段回退到默认配置。
func New(config Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if config.FailureRatio <= 0 || config.FailureRatio > 1 {
		config.FailureRatio = def.FailureRatio
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.SuccessesToClose <= 0 {
		config.SuccessesToClose = def.SuccessesToClose
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		config: config,
		logger: logger,
		now:    now,
		state:  StateClosed,
	}
}

// Allow 判定当前是否允许发起一次后端调用。
// Open 状态下冷却期满自动进入 HalfOpen；HalfOpen 状态下限制在途试探数。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.setState(StateHalfOpen)
			b.halfOpenInflight = 1
			b.halfOpenSucceeds = 0
			b.logger.Info("熔断器进入半开状态")
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenInflight >= b.config.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInflight++
		return true

	default:
		return false
	}
}

// RecordSuccess 回填一次成功调用。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentBucket().successes++

	if b.state == StateHalfOpen {
		if b.halfOpenInflight > 0 {
			b.halfOpenInflight--
		}
		b.halfOpenSucceeds++
		if b.halfOpenSucceeds >= b.config.SuccessesToClose {
			b.logger.Info("熔断器恢复正常",
				zap.Int("successes", b.halfOpenSucceeds),
			)
			b.setState(StateClosed)
			b.resetWindow()
		}
	}
}

// RecordFailure 回填一次失败调用（含超时）。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentBucket().failures++

	switch b.state {
	case StateClosed:
		successes, failures := b.windowCounts()
		total := successes + failures
		if total >= b.config.MinSamples &&
			float64(failures)/float64(total) >= b.config.FailureRatio {
			b.logger.Warn("熔断器打开",
				zap.Int("failures", failures),
				zap.Int("samples", total),
				zap.Float64("threshold", b.config.FailureRatio),
			)
			b.trip()
		}

	case StateHalfOpen:
		// 试探期任何失败立即重新熔断
		b.logger.Warn("熔断器半开状态失败，重新打开")
		b.trip()
	}
}

// State 返回当前状态（Open 冷却期满视为 HalfOpen 可试探，但不改变状态）。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailingFast 报告熔断器当前是否处于冷却期内的 Open 状态。
// 冷却期结束后返回 false，此时应继续排队等待 Allow 放行试探，
// 否则半开探测将因无请求可派而永远无法发生。
func (b *Breaker) FailingFast() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && b.now().Sub(b.openedAt) < b.config.Cooldown
}

// Reset 重置熔断器（手动恢复）。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.resetWindow()
	b.halfOpenInflight = 0
	b.halfOpenSucceeds = 0

	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)

	if b.config.OnStateChange != nil && oldState != StateClosed {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

// trip 进入 Open 状态并记录时间，调用方需持锁。
func (b *Breaker) trip() {
	b.setState(StateOpen)
	b.openedAt = b.now()
	b.halfOpenInflight = 0
	b.halfOpenSucceeds = 0
	b.resetWindow()
}

// setState 设置状态并触发回调，调用方需持锁。
func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// currentBucket 返回当前时间所在的分桶，按需轮换过期桶，调用方需持锁。
func (b *Breaker) currentBucket() *bucket {
	now := b.now()
	span := b.config.Window / bucketCount
	start := now.Truncate(span)
	idx := int(now.UnixNano()/int64(span)) % bucketCount

	if !b.buckets[idx].start.Equal(start) {
		b.buckets[idx] = bucket{start: start}
	}
	return &b.buckets[idx]
}

// windowCounts 汇总窗口内仍然有效的样本数，调用方需持锁。
func (b *Breaker) windowCounts() (successes, failures int) {
	now := b.now()
	for i := range b.buckets {
		if b.buckets[i].start.IsZero() {
			continue
		}
		if now.Sub(b.buckets[i].start) >= b.config.Window {
			continue
		}
		successes += b.buckets[i].successes
		failures += b.buckets[i].failures
	}
	return successes, failures
}

func (b *Breaker) resetWindow() {
	b.buckets = [bucketCount]bucket{}
}
