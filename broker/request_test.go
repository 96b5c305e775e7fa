package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleResolveOnce(t *testing.T) {
	h := newHandle("r1")
	assert.False(t, h.Resolved())

	require.True(t, h.complete("value", nil))
	assert.False(t, h.complete("other", errors.New("late")), "second complete must lose")

	assert.True(t, h.Resolved())
	v, err := h.Result()
	assert.Equal(t, "value", v)
	assert.NoError(t, err)
}

func TestHandleResultBeforeResolution(t *testing.T) {
	h := newHandle("r1")
	v, err := h.Result()
	assert.Nil(t, v)
	assert.NoError(t, err)
}

// 并发竞争解析，恰好一个胜出
func TestHandleConcurrentCompletion(t *testing.T) {
	h := newHandle("r1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if h.complete(i, nil) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, h.Resolved())
}

func TestHandleWait(t *testing.T) {
	h := newHandle("r1")
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.complete(nil, errors.New("boom"))
	}()

	v, err := h.Wait(context.Background())
	assert.Nil(t, v)
	assert.EqualError(t, err, "boom")
}

func TestHandleWaitContextCancelled(t *testing.T) {
	h := newHandle("r1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// ctx 结束不解析请求本身
	assert.False(t, h.Resolved())
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "unknown", Priority(99).String())
}

func TestNewRequestFields(t *testing.T) {
	now := time.Now()
	r := newRequest("completion", "hello", PriorityHigh, now, 30*time.Second, 7)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "completion", r.Class)
	assert.Equal(t, "hello", r.Payload)
	assert.Equal(t, PriorityHigh, r.Priority)
	assert.Equal(t, now, r.ArrivalTime)
	assert.Equal(t, now.Add(30*time.Second), r.Deadline)
	assert.Equal(t, 7, r.cost)
	assert.NotNil(t, r.Handle())
	assert.Equal(t, r.ID, r.Handle().ID())
}
