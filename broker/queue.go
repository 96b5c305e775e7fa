package broker

import (
	"sync"
	"time"
)

// classQueue 按优先级分层的有界 FIFO。容量满时拒绝最新到达者，
// 绝不驱逐已入队的请求。所有方法并发安全。
type classQueue struct {
	mu       sync.Mutex
	capacity int
	size     int
	tiers    [numPriorities][]*Request
}

func newClassQueue(capacity int) *classQueue {
	return &classQueue{capacity: capacity}
}

// push 入队。队列已满时返回 false，请求原样退回调用方。
func (q *classQueue) push(r *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size >= q.capacity {
		return false
	}
	q.tiers[r.Priority] = append(q.tiers[r.Priority], r)
	q.size++
	return true
}

// pushFront 把刚出队的请求放回其优先级层的队首。
// 派发泵在拿不到槽位时用它归还请求，不受容量约束以免丢失。
func (q *classQueue) pushFront(r *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tiers[r.Priority] = append([]*Request{r}, q.tiers[r.Priority]...)
	q.size++
}

// pop 取出最高优先级层中最早入队的请求，空队列返回 nil。
func (q *classQueue) pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := numPriorities - 1; p >= 0; p-- {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		r := tier[0]
		tier[0] = nil
		q.tiers[p] = tier[1:]
		q.size--
		return r
	}
	return nil
}

// peekCost 返回下一个将出队请求的预估开销，队列为空时返回 (0, false)。
// 批量 token 预算决策用。
func (q *classQueue) peekCost() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := numPriorities - 1; p >= 0; p-- {
		if tier := q.tiers[p]; len(tier) > 0 {
			return tier[0].cost, true
		}
	}
	return 0, false
}

// remove 按 ID 摘除仍在排队的请求。未找到返回 nil。
func (q *classQueue) remove(id string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := range q.tiers {
		for i, r := range q.tiers[p] {
			if r.ID == id {
				q.tiers[p] = append(q.tiers[p][:i], q.tiers[p][i+1:]...)
				q.size--
				return r
			}
		}
	}
	return nil
}

// expire 摘除所有截止时间已过的请求并返回它们。
func (q *classQueue) expire(now time.Time) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []*Request
	for p := range q.tiers {
		kept := q.tiers[p][:0]
		for _, r := range q.tiers[p] {
			if now.After(r.Deadline) {
				expired = append(expired, r)
				q.size--
			} else {
				kept = append(kept, r)
			}
		}
		q.tiers[p] = kept
	}
	return expired
}

// drain 清空队列并返回全部请求，Close 时统一失败用。
func (q *classQueue) drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var all []*Request
	for p := numPriorities - 1; p >= 0; p-- {
		all = append(all, q.tiers[p]...)
		q.tiers[p] = nil
	}
	q.size = 0
	return all
}

func (q *classQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
