package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Priority 请求优先级。同级之间严格 FIFO，高优先级先于低优先级出队，
// 但绝不抢占已在途的后端调用。
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Request 一次提交的不可变描述。创建后所有字段只读，
// 消除提交路径与派发路径之间的数据竞争。
type Request struct {
	ID          string
	Class       string
	Payload     any
	Priority    Priority
	ArrivalTime time.Time
	Deadline    time.Time

	// cost 批量 token 预算使用的预估开销，提交时一次性计算。
	cost int

	handle *Handle
}

// Handle 返回请求的 completion handle。
func (r *Request) Handle() *Handle { return r.handle }

func newRequest(class string, payload any, priority Priority, now time.Time, timeout time.Duration, cost int) *Request {
	id := uuid.New().String()
	return &Request{
		ID:          id,
		Class:       class,
		Payload:     payload,
		Priority:    priority,
		ArrivalTime: now,
		Deadline:    now.Add(timeout),
		cost:        cost,
		handle:      newHandle(id),
	}
}

// Handle 单次赋值的 completion handle。恰好解析一次：
// 结果与错误互斥，后续的 complete 调用全部为无操作。
type Handle struct {
	id    string
	state atomic.Int32
	done  chan struct{}

	// value/err 仅在 done 关闭前由唯一胜出的 complete 调用写入。
	value any
	err   error
}

func newHandle(id string) *Handle {
	return &Handle{
		id:   id,
		done: make(chan struct{}),
	}
}

// complete 尝试解析 handle。首个调用者胜出并返回 true，
// 之后的调用全部失败返回 false。
func (h *Handle) complete(value any, err error) bool {
	if !h.state.CompareAndSwap(0, 1) {
		return false
	}
	h.value = value
	h.err = err
	close(h.done)
	return true
}

// ID 返回请求 ID。
func (h *Handle) ID() string { return h.id }

// Done 返回在 handle 解析时关闭的通道。
func (h *Handle) Done() <-chan struct{} { return h.done }

// Resolved 报告 handle 是否已解析。
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result 返回解析结果。必须在 Done 关闭后调用；
// 未解析时返回 (nil, nil)。
func (h *Handle) Result() (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	default:
		return nil, nil
	}
}

// Wait 阻塞等待解析或 ctx 结束。ctx 先结束时返回 ctx.Err()，
// 不影响请求本身（取消请求需调用 Broker.Cancel）。
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
