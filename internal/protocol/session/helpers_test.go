package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/danmuck/bladectl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	gated   atomic.Bool
	gate    chan struct{}
	writing atomic.Int32
	overlap atomic.Bool

	// stalled writes ignore Close/Abort and hang until unstall is closed.
	stalled atomic.Bool
	unstall chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:      make(chan []byte, 64),
		out:     make(chan []byte, 64),
		closed:  make(chan struct{}),
		gate:    make(chan struct{}),
		unstall: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadText() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, ErrTransportClosed
	}
}

func (f *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	if f.writing.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.writing.Add(-1)
	if f.stalled.Load() {
		<-f.unstall
		return ErrTransportClosed
	}
	if f.gated.Load() {
		select {
		case <-f.gate:
		case <-f.closed:
			return ErrTransportClosed
		}
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return ErrTransportClosed
	}
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.shut()
	return nil
}

func (f *fakeTransport) Abort() error {
	f.shut()
	return nil
}

func (f *fakeTransport) shut() {
	f.once.Do(func() { close(f.closed) })
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) next(t *testing.T) frame.Message {
	t.Helper()
	select {
	case data := <-f.out:
		msg, err := frame.Decode(data, frame.DefaultLimits())
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		require.FailNow(t, "client wrote nothing")
		return frame.Message{}
	}
}

func (f *fakeTransport) expect(t *testing.T, method string) frame.Request {
	t.Helper()
	msg := f.next(t)
	require.True(t, msg.IsRequest(), "expected request, got response %s", msg.ID)
	require.Equal(t, method, msg.Method)
	return msg.Request()
}

func (f *fakeTransport) quiet(d time.Duration) bool {
	select {
	case <-f.out:
		return false
	case <-time.After(d):
		return true
	}
}

func (f *fakeTransport) reply(t *testing.T, id string, result any) {
	t.Helper()
	resp, err := frame.NewResult(id, result)
	require.NoError(t, err)
	data, err := frame.EncodeResponse(resp, frame.DefaultLimits())
	require.NoError(t, err)
	f.in <- data
}

func (f *fakeTransport) replyError(t *testing.T, id string, code int, message string) {
	t.Helper()
	data, err := frame.EncodeResponse(frame.NewErrorResponse(id, code, message), frame.DefaultLimits())
	require.NoError(t, err)
	f.in <- data
}

func (f *fakeTransport) push(t *testing.T, id, method string, params any) {
	t.Helper()
	req, err := frame.NewRequest(id, method, params)
	require.NoError(t, err)
	data, err := frame.EncodeRequest(req, frame.DefaultLimits())
	require.NoError(t, err)
	f.in <- data
}

func (f *fakeTransport) handshake(t *testing.T, res ConnectResult) ConnectParams {
	t.Helper()
	req := f.expect(t, MethodConnect)
	var params ConnectParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	f.reply(t, req.ID, res)
	return params
}

type fakeDialer struct {
	dials chan *fakeTransport
	fail  atomic.Int32
	count atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	d.count.Add(1)
	if d.fail.Load() > 0 {
		d.fail.Add(-1)
		return nil, errors.New("connection refused")
	}
	ft := newFakeTransport()
	d.dials <- ft
	return ft, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-d.dials:
		return ft
	case <-time.After(waitFor):
		require.FailNow(t, "session never dialed")
		return nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Endpoint = "ws://peer.test/session"
	cfg.ConnectDelay = 20 * time.Millisecond
	cfg.Reconnect = BackoffConfig{InitialDelay: 20 * time.Millisecond, Multiplier: 1, MaxDelay: 20 * time.Millisecond}
	cfg.ConnectTimeout = time.Second
	cfg.CloseTimeout = 200 * time.Millisecond
	cfg.PulseInterval = 10 * time.Millisecond
	cfg.OfflinePoll = 5 * time.Millisecond
	cfg.DrainTimeout = time.Second
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

type lifecycle struct {
	mu          sync.Mutex
	transitions []StateChange
	ready       atomic.Int32
	restored    atomic.Int32
	dropped     atomic.Int32
}

func (l *lifecycle) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, 0, len(l.transitions))
	for _, tr := range l.transitions {
		out = append(out, tr.To)
	}
	return out
}

func newSession(t *testing.T, cfg Config) (*Session, *fakeDialer, *lifecycle) {
	t.Helper()
	testlog.Start(t)
	d := newFakeDialer()
	s, err := New(cfg, WithDialer(d))
	require.NoError(t, err)

	lc := &lifecycle{}
	s.Hooks().StateChanged.Add(func(c StateChange) {
		lc.mu.Lock()
		lc.transitions = append(lc.transitions, c)
		lc.mu.Unlock()
	})
	s.Hooks().Ready.Add(func(Identity) { lc.ready.Add(1) })
	s.Hooks().Restored.Add(func(Identity) { lc.restored.Add(1) })
	s.Hooks().Disconnected.Add(func(Identity) { lc.dropped.Add(1) })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, d, lc
}

// running starts a session and completes a fresh handshake as s1/n1.
func running(t *testing.T, cfg Config, res ConnectResult) (*Session, *fakeDialer, *fakeTransport, *lifecycle) {
	t.Helper()
	s, d, lc := newSession(t, cfg)
	require.NoError(t, s.Start())
	ft := d.next(t)
	if res.SessionID == "" {
		res.SessionID = "s1"
	}
	if res.NodeID == "" {
		res.NodeID = "n1"
	}
	ft.handshake(t, res)
	waitState(t, s, StateRunning)
	require.Eventually(t, func() bool { return lc.ready.Load()+lc.restored.Load() > 0 }, waitFor, time.Millisecond)
	return s, d, ft, lc
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, time.Millisecond,
		"state %s never reached, at %s", want, s.State())
}

type responses struct {
	mu  sync.Mutex
	got []frame.Response
}

func (r *responses) callback() Callback {
	return func(resp frame.Response) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, resp)
	}
}

func (r *responses) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *responses) first() frame.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[0]
}
