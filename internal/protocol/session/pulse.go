package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/frame"
)

// pulseLoop expires overdue requests while Connecting or Running and
// republishes dirty protocol ranks while Running.
func (s *Session) pulseLoop() {
	defer s.workers.Done()
	ticker := time.NewTicker(s.cfg.PulseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Session) sweep(now time.Time) {
	state := s.State()
	if state != StateConnecting && state != StateRunning {
		return
	}
	for _, p := range s.registry.expired(now) {
		s.log.Debug().Str("id", p.id).Str("method", p.method).Msg("request timed out")
		s.complete(p, frame.NewErrorResponse(p.id, frame.CodeTimeout, "request timed out"))
	}
	if state != StateRunning {
		return
	}
	for _, u := range s.metrics.due(now) {
		protocol := u.protocol
		rank := u.rank
		_, err := s.Send(MethodProtocol, protocolCommand{
			Command:  ProtocolRankUpdate,
			Protocol: protocol,
			Params:   rankParams{Rank: rank},
		}, func(resp frame.Response) {
			if err := resp.Err(); err != nil {
				s.log.Warn().Err(err).Str("protocol", protocol).Int("rank", rank).Msg("rank update failed")
			}
		})
		if err != nil {
			s.log.Warn().Err(err).Str("protocol", protocol).Msg("rank update not sent")
		}
	}
}

type protocolMetric struct {
	interval time.Duration
	rank     int
	dirty    bool
	next     time.Time
}

type rankUpdate struct {
	protocol string
	rank     int
}

// protocolMetrics tracks locally provided protocol ranks. A rank change marks
// the protocol dirty; the pulse publishes it once its interval has elapsed.
type protocolMetrics struct {
	mu    sync.Mutex
	items map[string]*protocolMetric
}

func newProtocolMetrics() *protocolMetrics {
	return &protocolMetrics{items: make(map[string]*protocolMetric)}
}

func (m *protocolMetrics) register(protocol string, interval time.Duration, rank int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[protocol] = &protocolMetric{interval: interval, rank: rank, next: now.Add(interval)}
}

func (m *protocolMetrics) unregister(protocol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, protocol)
}

func (m *protocolMetrics) update(protocol string, rank int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[protocol]
	if !ok {
		return false
	}
	if item.rank != rank {
		item.rank = rank
		item.dirty = true
	}
	return true
}

func (m *protocolMetrics) rank(protocol string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[protocol]
	if !ok {
		return 0, false
	}
	return item.rank, true
}

func (m *protocolMetrics) due(now time.Time) []rankUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rankUpdate
	for protocol, item := range m.items {
		if !item.dirty || now.Before(item.next) {
			continue
		}
		item.dirty = false
		item.next = now.Add(item.interval)
		out = append(out, rankUpdate{protocol: protocol, rank: item.rank})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].protocol < out[j].protocol })
	return out
}
