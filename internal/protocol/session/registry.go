package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/frame"
	"go.opentelemetry.io/otel/trace"
)

var ErrDuplicateRequest = errors.New("session: duplicate request id")

// Callback receives the response (or synthesized failure) of a request.
// It runs exactly once.
type Callback func(resp frame.Response)

type pendingRequest struct {
	id       string
	method   string
	sentAt   time.Time
	deadline time.Time
	callback Callback
	span     trace.Span
}

// registry correlates outstanding requests by id.
type registry struct {
	mu    sync.Mutex
	items map[string]*pendingRequest
}

func newRegistry() *registry {
	return &registry{items: make(map[string]*pendingRequest)}
}

func (r *registry) add(p *pendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[p.id]; exists {
		return ErrDuplicateRequest
	}
	r.items[p.id] = p
	return nil
}

// take removes and returns the request. A second take of the same id misses,
// which is what makes completion exactly-once.
func (r *registry) take(id string) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if ok {
		delete(r.items, id)
	}
	return p, ok
}

// expired removes every request whose deadline is at or before now, oldest first.
func (r *registry) expired(now time.Time) []*pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pendingRequest
	for id, p := range r.items {
		if !p.deadline.After(now) {
			out = append(out, p)
			delete(r.items, id)
		}
	}
	sortPending(out)
	return out
}

func (r *registry) takeAll() []*pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pendingRequest, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p)
	}
	r.items = make(map[string]*pendingRequest)
	sortPending(out)
	return out
}

func (r *registry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func sortPending(items []*pendingRequest) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].sentAt.Equal(items[j].sentAt) {
			return items[i].id < items[j].id
		}
		return items[i].sentAt.Before(items[j].sentAt)
	})
}
