package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTakeIsExactlyOnce(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	require.NoError(t, r.add(&pendingRequest{id: "a", sentAt: now, deadline: now.Add(time.Second)}))
	require.ErrorIs(t, r.add(&pendingRequest{id: "a"}), ErrDuplicateRequest)

	p, ok := r.take("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.id)
	_, ok = r.take("a")
	assert.False(t, ok)
	assert.Zero(t, r.len())
}

func TestRegistryExpiredOldestFirst(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	require.NoError(t, r.add(&pendingRequest{id: "late", sentAt: now.Add(2 * time.Millisecond), deadline: now}))
	require.NoError(t, r.add(&pendingRequest{id: "early", sentAt: now, deadline: now.Add(-time.Second)}))
	require.NoError(t, r.add(&pendingRequest{id: "alive", sentAt: now, deadline: now.Add(time.Hour)}))

	expired := r.expired(now)
	require.Len(t, expired, 2)
	assert.Equal(t, "early", expired[0].id)
	assert.Equal(t, "late", expired[1].id)
	assert.True(t, r.has("alive"))
	assert.Empty(t, r.expired(now))

	all := r.takeAll()
	require.Len(t, all, 1)
	assert.Zero(t, r.len())
}

func TestSendQueueOrderAndConnWriterFlag(t *testing.T) {
	var q sendQueue
	q.push(outbound{id: "1"})
	q.push(outbound{id: "2"})
	q.pushFront(outbound{id: "0", urgent: true})

	head, ok := q.peek()
	require.True(t, ok)
	assert.True(t, head.urgent)

	var ids []string
	for {
		o, ok := q.pop()
		if !ok {
			break
		}
		ids = append(ids, o.id)
	}
	assert.Equal(t, []string{"0", "1", "2"}, ids)

	var c, next conn
	require.True(t, c.acquire())
	assert.False(t, c.acquire())
	assert.True(t, next.acquire(), "a held writer on one connection blocked another")
	c.release()
	assert.True(t, c.acquire())

	q.push(outbound{id: "x"})
	assert.Len(t, q.clear(), 1)
	assert.Zero(t, q.len())
}

func TestProtocolMetricsDue(t *testing.T) {
	m := newProtocolMetrics()
	now := time.Now()
	m.register("b", 10*time.Millisecond, 1, now)
	m.register("a", 10*time.Millisecond, 1, now)

	assert.Empty(t, m.due(now.Add(time.Second)), "clean metrics are not due")

	assert.True(t, m.update("a", 5))
	assert.True(t, m.update("b", 6))
	assert.True(t, m.update("b", 6))
	assert.Empty(t, m.due(now), "interval has not elapsed")

	due := m.due(now.Add(20 * time.Millisecond))
	require.Len(t, due, 2)
	assert.Equal(t, rankUpdate{protocol: "a", rank: 5}, due[0])
	assert.Equal(t, rankUpdate{protocol: "b", rank: 6}, due[1])
	assert.Empty(t, m.due(now.Add(time.Hour)))

	m.unregister("a")
	assert.False(t, m.update("a", 1))
	rank, ok := m.rank("b")
	require.True(t, ok)
	assert.Equal(t, 6, rank)
}
