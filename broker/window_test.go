package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowRequest(id string, cost int, deadline time.Time) *Request {
	return &Request{
		ID:       id,
		Class:    "test",
		Payload:  id,
		Deadline: deadline,
		cost:     cost,
		handle:   newHandle(id),
	}
}

func TestBatchWindowAddAndTake(t *testing.T) {
	w := newBatchWindow(time.Now())
	far := time.Now().Add(time.Hour)

	w.add(windowRequest("a", 3, far))
	w.add(windowRequest("b", 5, far))
	assert.Equal(t, 2, w.size())
	assert.Equal(t, 8, w.cost())

	members := w.take()
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "b", members[1].ID)
	assert.Equal(t, 0, w.size())
	assert.Equal(t, 0, w.cost())
}

func TestBatchWindowRemove(t *testing.T) {
	w := newBatchWindow(time.Now())
	far := time.Now().Add(time.Hour)
	w.add(windowRequest("a", 2, far))
	w.add(windowRequest("b", 4, far))

	removed := w.remove("a")
	require.NotNil(t, removed)
	assert.Equal(t, "a", removed.ID)
	assert.Nil(t, w.remove("a"))
	assert.Equal(t, 1, w.size())
	assert.Equal(t, 4, w.cost())
}

func TestBatchWindowExpire(t *testing.T) {
	w := newBatchWindow(time.Now())
	now := time.Now()
	w.add(windowRequest("fresh", 1, now.Add(time.Hour)))
	w.add(windowRequest("stale", 2, now.Add(-time.Second)))

	expired := w.expire(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)
	assert.Equal(t, 1, w.size())
	assert.Equal(t, 1, w.cost())
}
