package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/infergate/backend"
	"github.com/BaSui01/infergate/types"
)

// pumpState 泵协程的本地状态。pending 是已关闭、等待空闲槽位的批次，
// 只由泵协程触碰，无需加锁。
type pumpState struct {
	pending []*Request
	timer   *time.Timer
	timerC  <-chan time.Time
}

func (s *pumpState) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.timerC = nil
	}
}

// runPump 单类别派发泵。事件驱动：入队、槽位释放、窗口到期、
// 回收节拍、熔断状态变更都会唤醒一轮派发。
func (b *Broker) runPump(cls *workloadClass) {
	ticker := time.NewTicker(reaperInterval(cls.policy.RequestTimeout.Std()))
	defer ticker.Stop()

	var st pumpState
	for {
		now := b.clock()
		b.reapExpired(cls, now)
		if cls.breaker.FailingFast() {
			b.failFastQueued(cls)
		}

		if cls.policy.Batchable {
			b.fillWindow(cls, &st)
			b.dispatchPending(cls, &st)
		} else {
			b.dispatchSingles(cls)
		}

		select {
		case <-b.ctx.Done():
			st.stopTimer()
			for _, r := range st.pending {
				b.finish(r, nil, types.NewError(types.ErrBrokerClosed, "broker is closed").WithClass(cls.name), "rejected")
			}
			return
		case <-cls.wake:
		case <-st.timerC:
			st.timer = nil
			st.timerC = nil
		case <-ticker.C:
		}
	}
}

// reaperInterval 超时回收节拍，取请求超时的四分之一并夹在 [1ms, 250ms]。
func reaperInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < time.Millisecond {
		d = time.Millisecond
	}
	if d > 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	return d
}

// reapExpired 回收排队与窗口中截止时间已过的请求。
// 已派发的请求不在此列，其超时由调用方通过 handle 观察。
func (b *Broker) reapExpired(cls *workloadClass, now time.Time) {
	for _, r := range cls.queue.expire(now) {
		b.finish(r, nil, types.TimedOut(cls.name), "timeout")
	}
	b.metrics.SetQueued(cls.name, cls.queue.len())
	if w := cls.currentWindow(); w != nil {
		for _, r := range w.expire(now) {
			b.finish(r, nil, types.TimedOut(cls.name), "timeout")
		}
		b.metrics.SetBatchWindowSize(cls.name, w.size())
	}
}

// failFastQueued 熔断打开期间清空积压，全部解析 BackendUnavailable。
// 留着排队只会等到超时，快速失败让调用方尽早转移流量。
func (b *Broker) failFastQueued(cls *workloadClass) {
	for _, r := range cls.queue.drain() {
		b.finish(r, nil, types.BackendUnavailable(cls.name), "unavailable")
	}
	b.metrics.SetQueued(cls.name, 0)
	if w := cls.currentWindow(); w != nil {
		for _, r := range w.take() {
			b.finish(r, nil, types.BackendUnavailable(cls.name), "unavailable")
		}
		cls.setWindow(nil)
		b.metrics.SetBatchWindowSize(cls.name, 0)
	}
}

// fillWindow 以派发节奏向聚合窗口搬运排队请求，并在达到
// 大小上限、token 预算或时间硬截止时关闭窗口转入 pending。
// 已有 pending 批次时不再关闭新窗口，把背压留在队列里。
func (b *Broker) fillWindow(cls *workloadClass, st *pumpState) {
	if st.pending != nil {
		return
	}
	w := cls.currentWindow()
	if w == nil {
		if cls.queue.len() == 0 {
			return
		}
		w = newBatchWindow(b.clock())
		cls.setWindow(w)
	}

	maxSize := cls.policy.MaxBatchSize
	budget := cls.policy.MaxBatchTokens
	budgetHit := false
	for w.size() < maxSize {
		if budget > 0 && w.size() > 0 {
			if c, ok := cls.queue.peekCost(); ok && w.cost()+c > budget {
				budgetHit = true
				break
			}
		}
		r := cls.queue.pop()
		if r == nil {
			break
		}
		w.add(r)
	}
	b.metrics.SetQueued(cls.name, cls.queue.len())
	b.metrics.SetBatchWindowSize(cls.name, w.size())

	elapsed := b.clock().Sub(w.openedAt)
	maxWait := cls.policy.MaxBatchWait.Std()
	if w.size() >= maxSize || budgetHit || elapsed >= maxWait {
		members := w.take()
		cls.setWindow(nil)
		st.stopTimer()
		b.metrics.SetBatchWindowSize(cls.name, 0)
		if len(members) > 0 {
			st.pending = members
		}
		return
	}
	if st.timer == nil {
		st.timer = time.NewTimer(maxWait - elapsed)
		st.timerC = st.timer.C
	}
}

// dispatchPending 为已关闭的批次争取槽位与熔断放行。
// 两者任一不可得时批次原地保留，下次唤醒重试。
func (b *Broker) dispatchPending(cls *workloadClass, st *pumpState) {
	if st.pending == nil {
		return
	}

	// 等槽位期间越过截止时间的成员就地超时
	now := b.clock()
	kept := st.pending[:0]
	for _, r := range st.pending {
		if now.After(r.Deadline) {
			b.finish(r, nil, types.TimedOut(cls.name), "timeout")
		} else {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		st.pending = nil
		return
	}
	st.pending = kept

	if cls.breaker.FailingFast() {
		for _, r := range st.pending {
			b.finish(r, nil, types.BackendUnavailable(cls.name), "unavailable")
		}
		st.pending = nil
		return
	}
	if !cls.gate.tryAcquire() {
		return
	}
	if !cls.breaker.Allow() {
		cls.gate.release()
		return
	}
	members := st.pending
	st.pending = nil
	b.dispatch(cls, members)
}

// dispatchSingles 非批量类别：槽位允许时逐个派发，出队顺序即派发顺序。
func (b *Broker) dispatchSingles(cls *workloadClass) {
	for {
		if cls.breaker.FailingFast() {
			b.failFastQueued(cls)
			return
		}
		r := cls.queue.pop()
		if r == nil {
			return
		}
		b.metrics.SetQueued(cls.name, cls.queue.len())
		if !cls.gate.tryAcquire() {
			cls.queue.pushFront(r)
			b.metrics.SetQueued(cls.name, cls.queue.len())
			return
		}
		if !cls.breaker.Allow() {
			cls.gate.release()
			cls.queue.pushFront(r)
			b.metrics.SetQueued(cls.name, cls.queue.len())
			return
		}
		b.dispatch(cls, []*Request{r})
	}
}

// dispatch 把一个派发单元（单请求或一个批次）交给调用池执行。
// 槽位已持有，任务结束路径负责释放并唤醒泵。
func (b *Broker) dispatch(cls *workloadClass, members []*Request) {
	b.metrics.SetActive(cls.name, cls.gate.activeCount())
	now := b.clock()
	for _, r := range members {
		b.metrics.ObserveQueueWait(cls.name, now.Sub(r.ArrivalTime))
	}
	if cls.policy.Batchable {
		b.metrics.ObserveBatchSize(cls.name, len(members))
	}

	b.inflight.Add(1)
	task := func(ctx context.Context) {
		defer func() {
			cls.gate.release()
			b.metrics.SetActive(cls.name, cls.gate.activeCount())
			b.inflight.Done()
			cls.notify()
		}()
		b.invoke(ctx, cls, members)
	}
	if err := b.pool.Submit(b.taskCtx, task); err != nil {
		// 池满或已关闭时退化为裸协程，已准入的工作绝不丢弃
		go task(b.taskCtx)
	}
}

// invoke 执行后端调用并按位置解复用结果。调用级结果喂给熔断器，
// 逐项错误只影响对应成员。panic 与错误同样走恰好一次的解析路径。
func (b *Broker) invoke(ctx context.Context, cls *workloadClass, members []*Request) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Error("后端调用 panic",
				zap.String("class", cls.name),
				zap.Any("panic", v))
			cls.breaker.RecordFailure()
			err := types.BackendError(cls.name, fmt.Errorf("backend panic: %v", v))
			for _, r := range members {
				b.finish(r, nil, err, "error")
			}
		}
	}()

	payloads := make([]any, len(members))
	for i, r := range members {
		payloads[i] = r.Payload
	}

	ctx, span := b.obs.startInvoke(ctx, cls.name, len(members))
	start := time.Now()
	resp, err := b.invoker.Invoke(ctx, &backend.InvokeRequest{Class: cls.name, Payloads: payloads})
	duration := time.Since(start)
	b.obs.endInvoke(span, err)

	if err != nil {
		cls.breaker.RecordFailure()
		b.metrics.RecordBackendCall(cls.name, "error", duration)
		failure := asBrokerError(cls.name, err)
		for _, r := range members {
			b.finish(r, nil, failure, "error")
		}
		return
	}
	cls.breaker.RecordSuccess()
	b.metrics.RecordBackendCall(cls.name, "ok", duration)

	if len(resp.Results) != len(members) {
		mismatch := types.BackendError(cls.name,
			fmt.Errorf("backend returned %d results for %d inputs", len(resp.Results), len(members)))
		for _, r := range members {
			b.finish(r, nil, mismatch, "error")
		}
		return
	}
	for i, r := range members {
		res := resp.Results[i]
		if res.Err != nil {
			b.finish(r, nil, asBrokerError(cls.name, res.Err), "error")
		} else {
			b.finish(r, res.Value, nil, "success")
		}
	}
}

// asBrokerError 保留后端已归类的结构化错误，其余包一层 BackendError。
func asBrokerError(class string, err error) *types.Error {
	var te *types.Error
	if errors.As(err, &te) {
		return te.WithClass(class)
	}
	return types.BackendError(class, err)
}
