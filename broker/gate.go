package broker

import "sync/atomic"

// admissionGate caps the number of in-flight backend calls for one
// workload class. Lock free: a single CAS loop on the counter, no
// blocking anywhere on the dispatch path.
type admissionGate struct {
	max    int32
	active atomic.Int32
}

func newAdmissionGate(max int) *admissionGate {
	return &admissionGate{max: int32(max)}
}

// tryAcquire claims a slot. Returns false immediately when the class
// is at its concurrency cap.
func (g *admissionGate) tryAcquire() bool {
	for {
		cur := g.active.Load()
		if cur >= g.max {
			return false
		}
		if g.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release frees a slot. Must pair with a successful tryAcquire.
func (g *admissionGate) release() {
	if g.active.Add(-1) < 0 {
		panic("broker: admission gate release without acquire")
	}
}

func (g *admissionGate) activeCount() int {
	return int(g.active.Load())
}
