package broker

import (
	"sync"
	"time"
)

// batchWindow 聚合窗口。泵协程独占窗口的开关生命周期，
// 但 Cancel 与超时回收可能并发摘除成员，所以内部仍然加锁。
type batchWindow struct {
	mu        sync.Mutex
	members   []*Request
	totalCost int
	openedAt  time.Time
}

func newBatchWindow(now time.Time) *batchWindow {
	return &batchWindow{openedAt: now}
}

func (w *batchWindow) add(r *Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.members = append(w.members, r)
	w.totalCost += r.cost
}

func (w *batchWindow) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.members)
}

func (w *batchWindow) cost() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalCost
}

// remove 按 ID 摘除成员，未找到返回 nil。
func (w *batchWindow) remove(id string) *Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.members {
		if r.ID == id {
			w.members = append(w.members[:i], w.members[i+1:]...)
			w.totalCost -= r.cost
			return r
		}
	}
	return nil
}

// expire 摘除截止时间已过的成员。窗口内的请求尚未派发，
// 与排队请求享有同样的超时保障。
func (w *batchWindow) expire(now time.Time) []*Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	var expired []*Request
	kept := w.members[:0]
	for _, r := range w.members {
		if now.After(r.Deadline) {
			expired = append(expired, r)
			w.totalCost -= r.cost
		} else {
			kept = append(kept, r)
		}
	}
	w.members = kept
	return expired
}

// take 关闭窗口并交出全部成员。之后窗口不再使用。
func (w *batchWindow) take() []*Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	members := w.members
	w.members = nil
	w.totalCost = 0
	return members
}
