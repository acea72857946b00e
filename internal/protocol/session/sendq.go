package session

import "sync"

type outbound struct {
	id     string
	method string
	data   []byte
	// urgent frames are written even while the peer has paused us.
	urgent bool
}

// sendQueue is the FIFO of encoded frames. The writer role lives on the
// connection being written to.
type sendQueue struct {
	mu    sync.Mutex
	items []outbound
}

func (q *sendQueue) push(o outbound) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, o)
	return len(q.items)
}

func (q *sendQueue) pushFront(o outbound) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]outbound{o}, q.items...)
	return len(q.items)
}

func (q *sendQueue) peek() (outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outbound{}, false
	}
	return q.items[0], true
}

func (q *sendQueue) pop() (outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outbound{}, false
	}
	o := q.items[0]
	q.items[0] = outbound{}
	q.items = q.items[1:]
	return o, true
}

func (q *sendQueue) clear() []outbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
