package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danmuck/bladectl/internal/notify"
)

// Broadcast is a channel event, inbound or outbound.
type Broadcast struct {
	BroadcasterNodeID string          `json:"broadcaster_nodeid,omitempty"`
	Protocol          string          `json:"protocol"`
	Channel           string          `json:"channel"`
	Event             string          `json:"event"`
	Params            json.RawMessage `json:"params,omitempty"`
}

// Unicast is a direct event addressed to a node id or identity.
type Unicast struct {
	SenderNodeID string          `json:"sender_nodeid,omitempty"`
	Target       string          `json:"target"`
	Event        string          `json:"event"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// ExecuteRequest is the session.execute body.
type ExecuteRequest struct {
	RequesterNodeID string          `json:"requester_nodeid,omitempty"`
	ResponderNodeID string          `json:"responder_nodeid,omitempty"`
	Protocol        string          `json:"protocol"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// ExecuteResult is the session.execute result body.
type ExecuteResult struct {
	RequesterNodeID string          `json:"requester_nodeid,omitempty"`
	ResponderNodeID string          `json:"responder_nodeid,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// MethodHandler serves an inbound execute. Returning a *frame.Error keeps its
// code; any other error is reported as a generic failure.
type MethodHandler func(ctx context.Context, req ExecuteRequest) (any, error)

type channelKey struct {
	protocol string
	channel  string
}

type methodKey struct {
	protocol string
	method   string
}

type registeredMethod struct {
	seq uint64
	fn  MethodHandler
}

type handlerSet struct {
	mu         sync.RWMutex
	seq        uint64
	broadcasts map[channelKey]*notify.Hook[Broadcast]
	unicasts   map[string]*notify.Hook[Unicast]
	methods    map[methodKey]registeredMethod
}

func newHandlerSet() *handlerSet {
	return &handlerSet{
		broadcasts: make(map[channelKey]*notify.Hook[Broadcast]),
		unicasts:   make(map[string]*notify.Hook[Unicast]),
		methods:    make(map[methodKey]registeredMethod),
	}
}

func (h *handlerSet) onBroadcast(protocol, channel string, fn func(Broadcast)) func() {
	key := channelKey{protocol: protocol, channel: channel}
	h.mu.Lock()
	hook, ok := h.broadcasts[key]
	if !ok {
		hook = notify.NewHook[Broadcast]("session.broadcast." + protocol + "." + channel)
		h.broadcasts[key] = hook
	}
	h.mu.Unlock()
	return hook.Add(fn)
}

func (h *handlerSet) broadcast(b Broadcast) bool {
	h.mu.RLock()
	hook, ok := h.broadcasts[channelKey{protocol: b.Protocol, channel: b.Channel}]
	h.mu.RUnlock()
	if !ok || hook.Len() == 0 {
		return false
	}
	hook.Fire(b)
	return true
}

func (h *handlerSet) onUnicast(target string, fn func(Unicast)) func() {
	h.mu.Lock()
	hook, ok := h.unicasts[target]
	if !ok {
		hook = notify.NewHook[Unicast]("session.unicast." + target)
		h.unicasts[target] = hook
	}
	h.mu.Unlock()
	return hook.Add(fn)
}

func (h *handlerSet) unicast(u Unicast) bool {
	h.mu.RLock()
	hook, ok := h.unicasts[u.Target]
	h.mu.RUnlock()
	if !ok || hook.Len() == 0 {
		return false
	}
	hook.Fire(u)
	return true
}

func (h *handlerSet) handle(protocol, method string, fn MethodHandler) func() {
	key := methodKey{protocol: protocol, method: method}
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.methods[key] = registeredMethod{seq: seq, fn: fn}
	h.mu.Unlock()
	// removal only drops this registration, not a later replacement
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.methods[key]; ok && cur.seq == seq {
			delete(h.methods, key)
		}
	}
}

func (h *handlerSet) method(protocol, method string) (MethodHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.methods[methodKey{protocol: protocol, method: method}]
	return m.fn, ok && m.fn != nil
}
