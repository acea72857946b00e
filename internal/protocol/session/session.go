package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/bladectl/internal/auth"
	"github.com/danmuck/bladectl/internal/cache"
	"github.com/danmuck/bladectl/internal/notify"
	"github.com/danmuck/bladectl/internal/observability"
	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrShutdown       = errors.New("session: shut down")
	ErrAlreadyStarted = errors.New("session: already started")
	errWriterBusy     = errors.New("session: writer busy")
)

const tracerName = "github.com/danmuck/bladectl/internal/protocol/session"

// Hooks are the lifecycle notifications. Listeners run on the lifecycle
// goroutine and should return quickly.
type Hooks struct {
	StateChanged *notify.Hook[StateChange]
	// Ready fires when Running is entered with a fresh session.
	Ready *notify.Hook[Identity]
	// Restored fires when Running is entered with a resumed session.
	Restored     *notify.Hook[Identity]
	Disconnected *notify.Hook[Identity]
}

type Option func(*Session)

func WithDialer(d Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCache shares an existing cache instead of allocating one.
func WithCache(c *cache.Cache) Option {
	return func(s *Session) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

type loopEventKind int

const (
	evDialed loopEventKind = iota
	evHandshake
	evReadFailed
	evWriteFailed
	evClosed
)

type loopEvent struct {
	kind      loopEventKind
	gen       uint64
	transport Transport
	restored  bool
	err       error
}

// conn is one connection attempt. Background operations bound to it are
// tracked so Closed can wait for them before going Offline.
type conn struct {
	gen       uint64
	transport Transport
	cancel    context.CancelFunc
	// handshake is the id of the registered session.connect, owned by the loop.
	handshake string

	// writing is the single-writer flag for this transport. A write wedged on
	// a dead connection must not hold up the next one.
	writing atomic.Bool

	mu       sync.Mutex
	draining bool
	ops      sync.WaitGroup
}

// acquire claims the writer role. Only one goroutine may write at a time.
func (c *conn) acquire() bool {
	return c.writing.CompareAndSwap(false, true)
}

func (c *conn) release() {
	c.writing.Store(false)
}

type inboundFrame struct {
	gen  uint64
	data []byte
}

// Session is the client engine. All methods are safe for concurrent use.
type Session struct {
	cfg      Config
	log      zerolog.Logger
	dialer   Dialer
	cache    *cache.Cache
	tracer   trace.Tracer
	hooks    *Hooks
	handlers *handlerSet
	metrics  *protocolMetrics
	registry *registry
	queue    sendQueue
	rng      *rand.Rand

	mu       sync.Mutex
	state    State
	identity Identity
	conn     *conn
	gen      uint64

	paused atomic.Bool

	events     chan loopEvent
	inbound    chan inboundFrame
	disconnect chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	stopped      chan struct{}
	started      atomic.Bool
	workers      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session in the Offline state. Nothing is dialed until Start.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		log:    observability.Component("session"),
		dialer: WebSocketDialer{},
		cache:  cache.New(),
		tracer: otel.Tracer(tracerName),
		hooks: &Hooks{
			StateChanged: notify.NewHook[StateChange]("session.state"),
			Ready:        notify.NewHook[Identity]("session.ready"),
			Restored:     notify.NewHook[Identity]("session.restored"),
			Disconnected: notify.NewHook[Identity]("session.disconnected"),
		},
		handlers:   newHandlerSet(),
		metrics:    newProtocolMetrics(),
		registry:   newRegistry(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		state:      StateOffline,
		events:     make(chan loopEvent, 64),
		inbound:    make(chan inboundFrame, 256),
		disconnect: make(chan struct{}, 1),
		shutdown:   make(chan struct{}),
		stopped:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the lifecycle loop, the inbound dispatcher and the pulse.
func (s *Session) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.log.Info().Str("endpoint", s.cfg.Endpoint).Msg("session starting")
	s.workers.Add(2)
	go s.dispatchLoop()
	go s.pulseLoop()
	go s.run()
	return nil
}

// Shutdown closes the connection gracefully, fails every pending request and
// moves to the terminal Shutdown state. It returns ctx.Err() if ctx expires first.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	if s.started.CompareAndSwap(false, true) {
		s.finish()
		return nil
	}
	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the current connection. The session reconnects after
// the reconnect delay and asks to resume.
func (s *Session) Disconnect() {
	select {
	case s.disconnect <- struct{}{}:
	default:
	}
}

// Done is closed once the session reaches Shutdown.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Cache() *cache.Cache {
	return s.cache
}

func (s *Session) Hooks() *Hooks {
	return s.hooks
}

func (s *Session) Config() Config {
	return s.cfg
}

// Pending reports the number of requests awaiting a response.
func (s *Session) Pending() int {
	return s.registry.len()
}

// Queued reports the number of frames waiting in the send pipeline.
func (s *Session) Queued() int {
	return s.queue.len()
}

func (s *Session) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Session) run() {
	defer s.finish()

	var reconnectAt time.Time
	attempt := 0
	poll := time.NewTicker(s.cfg.OfflinePoll)
	defer poll.Stop()
	shutdown := s.shutdown

	for {
		switch s.State() {
		case StateOffline:
			if s.shuttingDown() {
				return
			}
			if time.Now().Before(reconnectAt) {
				select {
				case <-poll.C:
				case <-s.shutdown:
				}
				continue
			}
			s.beginConnect()
		case StateClosed:
			s.drain()
			attempt++
			delay := NextBackoffDelay(s.cfg.Reconnect, attempt, s.rng)
			reconnectAt = time.Now().Add(delay)
			s.goOffline()
			if !s.shuttingDown() {
				s.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnect scheduled")
			}
		default:
			select {
			case ev := <-s.events:
				if ev.kind == evHandshake && ev.err == nil && ev.gen == s.currentGen() {
					attempt = 0
				}
				s.handleEvent(ev)
			case <-shutdown:
				shutdown = nil
				s.onShutdownRequested()
			case <-s.disconnect:
				s.onDisconnectRequested()
			}
		}
	}
}

func (s *Session) finish() {
	s.setState(StateShutdown)
	s.queue.clear()
	observability.SetQueuedFrames(0)
	s.failAll(frame.CodeFailed, "session shut down")
	s.cancel()
	close(s.stopped)
	s.log.Info().Msg("session shut down")
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	id := s.identity
	s.mu.Unlock()

	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state")
	observability.RecordStateTransition(to.String())
	s.hooks.StateChanged.Fire(StateChange{From: from, To: to})
	if to == StateClosed {
		s.hooks.Disconnected.Fire(id)
	}
}

func (s *Session) current() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) currentGen() uint64 {
	if c := s.current(); c != nil {
		return c.gen
	}
	return 0
}

func (s *Session) post(ev loopEvent) {
	select {
	case s.events <- ev:
	case <-s.stopped:
		if ev.transport != nil {
			_ = ev.transport.Abort()
		}
	}
}

// goOp runs fn as a background operation of c. It refuses once c is draining.
func (s *Session) goOp(c *conn, fn func()) bool {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return false
	}
	c.ops.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.ops.Done()
		fn()
	}()
	return true
}

func (s *Session) beginConnect() {
	s.paused.Store(false)
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	s.mu.Lock()
	s.gen++
	c := &conn{gen: s.gen, cancel: cancel}
	s.conn = c
	s.mu.Unlock()
	s.setState(StateConnecting)

	s.goOp(c, func() {
		t, err := s.dialer.Dial(ctx, s.cfg)
		s.post(loopEvent{kind: evDialed, gen: c.gen, transport: t, err: err})
	})
}

func (s *Session) handleEvent(ev loopEvent) {
	c := s.current()
	if c == nil || ev.gen != c.gen {
		if ev.transport != nil {
			_ = ev.transport.Abort()
		}
		return
	}
	state := s.State()

	switch ev.kind {
	case evDialed:
		if ev.err != nil {
			s.log.Warn().Err(ev.err).Str("endpoint", s.cfg.Endpoint).Msg("transport connect failed")
			s.setState(StateClosed)
			return
		}
		if state != StateConnecting {
			_ = ev.transport.Abort()
			return
		}
		s.mu.Lock()
		c.transport = ev.transport
		s.mu.Unlock()
		s.goOp(c, func() { s.receive(c) })
		if err := s.sendHandshake(c); err != nil {
			s.log.Warn().Err(err).Msg("handshake send failed")
			s.abort(c)
			s.setState(StateClosed)
		}
	case evHandshake:
		if state != StateConnecting {
			return
		}
		if ev.err != nil {
			s.log.Warn().Err(ev.err).Msg("handshake failed")
			s.abort(c)
			s.setState(StateClosed)
			return
		}
		s.setState(StateRunning)
		id := s.Identity()
		observability.RecordConnect(ev.restored)
		s.log.Info().
			Str("session_id", id.SessionID).
			Str("node_id", id.NodeID).
			Bool("restored", ev.restored).
			Msg("session running")
		if ev.restored {
			s.hooks.Restored.Fire(id)
		} else {
			s.hooks.Ready.Fire(id)
		}
		s.pump()
	case evReadFailed, evWriteFailed:
		switch state {
		case StateRunning:
			s.log.Warn().Err(ev.err).Msg("transport fault")
			s.beginClose(c)
		case StateConnecting:
			s.log.Warn().Err(ev.err).Msg("transport fault during handshake")
			s.abort(c)
			s.setState(StateClosed)
		}
	case evClosed:
		if ev.err != nil {
			s.log.Debug().Err(ev.err).Msg("close handshake incomplete")
		}
		if state == StateClosing {
			s.setState(StateClosed)
		}
	}
}

func (s *Session) onShutdownRequested() {
	c := s.current()
	switch s.State() {
	case StateRunning:
		s.beginClose(c)
	case StateConnecting:
		s.abort(c)
		s.setState(StateClosed)
	}
}

func (s *Session) onDisconnectRequested() {
	c := s.current()
	switch s.State() {
	case StateRunning:
		s.log.Info().Msg("disconnect requested")
		s.beginClose(c)
	case StateConnecting:
		s.abort(c)
		s.setState(StateClosed)
	}
}

func (s *Session) beginClose(c *conn) {
	s.setState(StateClosing)
	if c == nil || c.transport == nil {
		s.setState(StateClosed)
		return
	}
	t := c.transport
	started := s.goOp(c, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
		defer cancel()
		err := t.Close(ctx)
		s.post(loopEvent{kind: evClosed, gen: c.gen, err: err})
	})
	if !started {
		_ = t.Abort()
		s.setState(StateClosed)
	}
}

func (s *Session) abort(c *conn) {
	if c == nil {
		return
	}
	c.cancel()
	s.dropHandshake(c)
	if c.transport != nil {
		_ = c.transport.Abort()
	}
}

// dropHandshake forgets an unanswered session.connect of an abandoned
// attempt. Its callback never runs; the attempt is already over.
func (s *Session) dropHandshake(c *conn) {
	if c.handshake == "" {
		return
	}
	if _, ok := s.registry.take(c.handshake); ok {
		observability.SetPendingRequests(s.registry.len())
	}
	c.handshake = ""
}

// drain waits for the closed connection's background operations. Overrunning
// the drain window is a diagnostic, not a failure.
func (s *Session) drain() {
	c := s.current()
	if c == nil {
		return
	}
	c.cancel()
	s.dropHandshake(c)
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.ops.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case ev := <-s.events:
			if ev.transport != nil {
				_ = ev.transport.Abort()
			}
		case <-timer.C:
			s.log.Error().
				Uint64("conn", c.gen).
				Dur("timeout", s.cfg.DrainTimeout).
				Msg("background operations still running after close")
			return
		}
	}
}

func (s *Session) goOffline() {
	s.mu.Lock()
	s.identity.NodeID = ""
	s.identity.MasterNodeID = ""
	s.identity.Restored = false
	s.conn = nil
	s.mu.Unlock()
	s.setState(StateOffline)
}

func (s *Session) receive(c *conn) {
	for {
		data, err := c.transport.ReadText()
		if err != nil {
			s.post(loopEvent{kind: evReadFailed, gen: c.gen, err: err})
			return
		}
		select {
		case s.inbound <- inboundFrame{gen: c.gen, data: data}:
		case <-s.stopped:
			return
		}
	}
}

// sendHandshake registers session.connect and writes it ahead of the queue.
// Its deadline is the connect timeout; the pulse sweep expires it.
func (s *Session) sendHandshake(c *conn) error {
	prev := s.Identity().SessionID
	id := newRequestID()
	req, err := frame.NewRequest(id, MethodConnect, s.cfg.connectParams(prev))
	if err != nil {
		return err
	}
	data, err := frame.EncodeRequest(req, s.cfg.Limits)
	if err != nil {
		return err
	}
	now := time.Now()
	p := &pendingRequest{
		id:       id,
		method:   MethodConnect,
		sentAt:   now,
		deadline: now.Add(s.cfg.ConnectTimeout),
		callback: func(resp frame.Response) { s.onHandshake(c.gen, prev, resp) },
	}
	if err := s.registry.add(p); err != nil {
		return err
	}
	if !c.acquire() {
		s.registry.take(id)
		return errWriterBusy
	}
	c.handshake = id
	started := s.goOp(c, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		err := c.transport.WriteText(ctx, data)
		c.release()
		if err != nil {
			s.post(loopEvent{kind: evWriteFailed, gen: c.gen, err: err})
		}
	})
	if !started {
		c.release()
		s.dropHandshake(c)
		return ErrTransportClosed
	}
	return nil
}

func (s *Session) onHandshake(gen uint64, prev string, resp frame.Response) {
	if gen != s.currentGen() {
		return
	}
	fail := func(err error) {
		s.post(loopEvent{kind: evHandshake, gen: gen, err: err})
	}
	if err := resp.Err(); err != nil {
		fail(err)
		return
	}
	var res ConnectResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		fail(errors.Join(ErrInvalidConnectResult, err))
		return
	}
	if err := res.Validate(); err != nil {
		fail(err)
		return
	}

	restored := prev != "" && res.SessionID == prev
	s.mu.Lock()
	s.identity = Identity{
		SessionID:    res.SessionID,
		NodeID:       res.NodeID,
		MasterNodeID: res.MasterNodeID,
		Restored:     restored,
	}
	s.mu.Unlock()

	if !restored {
		// Work issued before the first session belongs to no session and
		// survives; work tied to a lost session does not.
		if prev != "" {
			s.log.Info().Str("previous", prev).Str("session_id", res.SessionID).Msg("session not restored")
			s.queue.clear()
			observability.SetQueuedFrames(0)
			s.failAll(frame.CodeFailed, "session not restored")
		}
		s.cache.Load(res.Snapshot)
	}
	if len(res.Authorization) > 0 && len(s.cfg.Authentication) > 0 {
		if key, err := auth.Key(s.cfg.Authentication); err == nil {
			s.cache.PutAuthorization(cache.Authorization{Key: key, Block: res.Authorization})
		}
	}
	s.post(loopEvent{kind: evHandshake, gen: gen, restored: restored})
}
