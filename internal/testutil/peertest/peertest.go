// Package peertest runs a scripted session peer over a real websocket so
// engine tests can drive handshakes, netcasts, responses and drops.
package peertest

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/bladectl/internal/auth"
	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const DefaultWait = 3 * time.Second

// Peer accepts websocket connections from the engine under test.
type Peer struct {
	t        testing.TB
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *Conn

	// Validator, when set, vets the handshake authentication payload.
	Validator auth.Validator
}

// New starts a plain ws:// peer. It is closed by t.Cleanup.
func New(t testing.TB) *Peer {
	t.Helper()
	p := newPeer(t)
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

// NewTLS starts a wss:// peer with the given server TLS config.
func NewTLS(t testing.TB, cfg *tls.Config) *Peer {
	t.Helper()
	p := newPeer(t)
	p.server = httptest.NewUnstartedServer(http.HandlerFunc(p.serve))
	p.server.TLS = cfg
	p.server.StartTLS()
	t.Cleanup(p.Close)
	return p
}

func newPeer(t testing.TB) *Peer {
	return &Peer{
		t:     t,
		conns: make(chan *Conn, 8),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
		},
	}
}

// URL is the websocket endpoint of the peer.
func (p *Peer) URL() string {
	switch {
	case strings.HasPrefix(p.server.URL, "https://"):
		return "wss://" + strings.TrimPrefix(p.server.URL, "https://")
	default:
		return "ws://" + strings.TrimPrefix(p.server.URL, "http://")
	}
}

func (p *Peer) Close() {
	p.server.CloseClientConnections()
	p.server.Close()
}

func (p *Peer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{
		t:      p.t,
		peer:   p,
		ws:     ws,
		frames: make(chan frame.Message, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	p.conns <- c
}

// Accept waits for the next client connection.
func (p *Peer) Accept() *Conn {
	p.t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(DefaultWait):
		require.FailNow(p.t, "no client connection")
		return nil
	}
}

// Conn is one accepted client connection.
type Conn struct {
	t      testing.TB
	peer   *Peer
	ws     *websocket.Conn
	frames chan frame.Message
	done   chan struct{}

	writeMu sync.Mutex
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := frame.Decode(data, frame.DefaultLimits())
		if err != nil {
			continue
		}
		c.frames <- msg
	}
}

// Next returns the next frame the client sent.
func (c *Conn) Next() frame.Message {
	c.t.Helper()
	select {
	case msg := <-c.frames:
		return msg
	case <-time.After(DefaultWait):
		require.FailNow(c.t, "no frame from client")
		return frame.Message{}
	}
}

// Quiet reports whether the client sends nothing for d.
func (c *Conn) Quiet(d time.Duration) bool {
	select {
	case <-c.frames:
		return false
	case <-time.After(d):
		return true
	}
}

// Expect returns the next frame, which must be a request for method.
func (c *Conn) Expect(method string) frame.Request {
	c.t.Helper()
	msg := c.Next()
	require.True(c.t, msg.IsRequest(), "expected request %s, got response %s", method, msg.ID)
	require.Equal(c.t, method, msg.Method)
	return msg.Request()
}

func (c *Conn) write(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

// Reply sends a success response.
func (c *Conn) Reply(id string, result any) {
	c.t.Helper()
	resp, err := frame.NewResult(id, result)
	require.NoError(c.t, err)
	c.write(resp)
}

// ReplyError sends a failure response.
func (c *Conn) ReplyError(id string, code int, message string) {
	c.t.Helper()
	c.write(frame.NewErrorResponse(id, code, message))
}

// Request sends a peer-initiated request.
func (c *Conn) Request(id, method string, params any) {
	c.t.Helper()
	req, err := frame.NewRequest(id, method, params)
	require.NoError(c.t, err)
	c.write(req)
}

var netcastSeq atomic.Int64

// Netcast pushes one cache delta.
func (c *Conn) Netcast(command string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	id := "netcast-" + strconv.FormatInt(netcastSeq.Add(1), 10)
	c.Request(id, "session.netcast", map[string]any{
		"command":        command,
		"netcast_nodeid": "master",
		"params":         json.RawMessage(raw),
	})
}

// HandshakeReply scripts the connect result.
type HandshakeReply struct {
	SessionID     string
	NodeID        string
	MasterNodeID  string
	Authorization json.RawMessage
	// Snapshot is any value marshaling to the snapshot fields.
	Snapshot any
}

// Handshake is what the client sent in session.connect.
type Handshake struct {
	ID             string
	SessionID      string          `json:"sessionid"`
	Authentication json.RawMessage `json:"authentication"`
	Agent          string          `json:"agent"`
	Identity       string          `json:"identity"`
	Version        struct {
		Major    int `json:"major"`
		Minor    int `json:"minor"`
		Revision int `json:"revision"`
	} `json:"version"`
	Rejected bool
}

// Handshake reads session.connect and answers it. A configured Validator
// rejecting the credential produces an error response instead.
func (c *Conn) Handshake(reply HandshakeReply) Handshake {
	c.t.Helper()
	req := c.Expect("session.connect")
	var hs Handshake
	require.NoError(c.t, json.Unmarshal(req.Params, &hs))
	hs.ID = req.ID

	if v := c.peer.Validator; v != nil {
		if err := v.Validate(hs.Authentication); err != nil {
			hs.Rejected = true
			c.ReplyError(req.ID, frame.CodeFailed, err.Error())
			return hs
		}
	}

	result := map[string]any{}
	if reply.Snapshot != nil {
		raw, err := json.Marshal(reply.Snapshot)
		require.NoError(c.t, err)
		require.NoError(c.t, json.Unmarshal(raw, &result))
	}
	result["sessionid"] = reply.SessionID
	result["nodeid"] = reply.NodeID
	result["master_nodeid"] = reply.MasterNodeID
	if len(reply.Authorization) > 0 {
		result["authorization"] = reply.Authorization
	}
	c.Reply(req.ID, result)
	return hs
}

// Drop severs the TCP connection without a close handshake.
func (c *Conn) Drop() {
	_ = c.ws.UnderlyingConn().Close()
}

// Close performs the websocket close handshake from the peer side.
func (c *Conn) Close() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	select {
	case <-c.done:
	case <-time.After(DefaultWait):
	}
	_ = c.ws.Close()
}

// Done is closed when the client side of the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
