package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrTransportClosed = errors.New("session: transport closed")

// Transport is one established connection. ReadText is called from a single
// reader goroutine; WriteText from the single send-pipeline writer.
type Transport interface {
	ReadText() ([]byte, error)
	WriteText(ctx context.Context, data []byte) error
	// Close performs the graceful close handshake bounded by ctx.
	Close(ctx context.Context) error
	// Abort drops the connection immediately.
	Abort() error
}

// Dialer opens transports. The session owns every transport it dials.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// WebSocketDialer dials text-frame websocket transports.
type WebSocketDialer struct {
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	wsd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.ConnectTimeout,
		ReadBufferSize:   cfg.Limits.MaxFrameBytes,
		WriteBufferSize:  cfg.Limits.MaxFrameBytes,
	}
	if cfg.secure() {
		tlsCfg, err := cfg.clientTLSConfig()
		if err != nil {
			return nil, err
		}
		wsd.TLSClientConfig = tlsCfg
	}
	conn, resp, err := wsd.DialContext(ctx, cfg.Endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSTransport(conn, cfg), nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	idleTimeout  time.Duration

	readDone chan struct{}
	readOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, cfg Config) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  3 * cfg.KeepaliveInterval,
		readDone:     make(chan struct{}),
		stop:         make(chan struct{}),
	}
	conn.SetReadLimit(int64(cfg.Limits.MaxFrameBytes))
	_ = conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
	})
	go t.keepalive(cfg.KeepaliveInterval)
	return t
}

func (t *wsTransport) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (t *wsTransport) ReadText() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			t.readOnce.Do(func() { close(t.readDone) })
			return nil, err
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(ctx context.Context) error {
	t.halt()
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	if werr == nil {
		select {
		case <-t.readDone:
		case <-ctx.Done():
		}
	}
	cerr := t.conn.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (t *wsTransport) Abort() error {
	t.halt()
	return t.conn.Close()
}

func (t *wsTransport) halt() {
	t.stopOnce.Do(func() { close(t.stop) })
}
