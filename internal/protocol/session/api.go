package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/bladectl/internal/auth"
	"github.com/danmuck/bladectl/internal/cache"
	"github.com/danmuck/bladectl/internal/observability"
	"github.com/danmuck/bladectl/internal/protocol/frame"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoProvider = errors.New("session: no provider for protocol")

// Commands carried by session.protocol.
const (
	ProtocolProviderAdd    = "provider.add"
	ProtocolProviderRemove = "provider.remove"
	ProtocolRankUpdate     = "provider.rank.update"
	ProtocolDataUpdate     = "provider.data.update"
	ProtocolMethodAdd      = "method.add"
	ProtocolMethodRemove   = "method.remove"
	ProtocolChannelAdd     = "channel.add"
	ProtocolChannelRemove  = "channel.remove"
)

// Commands carried by session.identity, session.subscription and session.authority.
const (
	CommandAdd    = "add"
	CommandRemove = "remove"
)

type requestOptions struct {
	ttl        time.Duration
	id         string
	noResponse bool
}

type RequestOption func(*requestOptions)

// WithTTL overrides the request deadline.
func WithTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithRequestID sets an explicit request id instead of a generated one.
func WithRequestID(id string) RequestOption {
	return func(o *requestOptions) { o.id = id }
}

// WithoutResponse sends a fire-and-forget frame that is never registered.
func WithoutResponse() RequestOption {
	return func(o *requestOptions) { o.noResponse = true }
}

func newRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Send frames a request and queues it. When a response is expected, cb runs
// exactly once with the response, a protocol error, or a synthetic timeout.
// Oversized frames fail synchronously with frame.ErrFrameTooLarge.
func (s *Session) Send(method string, params any, cb Callback, opts ...RequestOption) (string, error) {
	return s.send(context.Background(), method, params, cb, opts...)
}

func (s *Session) send(ctx context.Context, method string, params any, cb Callback, opts ...RequestOption) (string, error) {
	if s.shuttingDown() || s.State() == StateShutdown {
		return "", ErrShutdown
	}
	o := requestOptions{ttl: s.cfg.RequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = newRequestID()
	}
	req, err := frame.NewRequest(o.id, method, params)
	if err != nil {
		return "", err
	}
	data, err := frame.EncodeRequest(req, s.cfg.Limits)
	if err != nil {
		return "", err
	}

	if !o.noResponse {
		now := time.Now()
		_, span := s.tracer.Start(ctx, method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.system", "jsonrpc"),
				attribute.String("rpc.method", method),
				attribute.String("rpc.jsonrpc.request_id", o.id),
			),
		)
		p := &pendingRequest{
			id:       o.id,
			method:   method,
			sentAt:   now,
			deadline: now.Add(o.ttl),
			callback: cb,
			span:     span,
		}
		if err := s.registry.add(p); err != nil {
			span.End()
			return "", fmt.Errorf("%w: %s", err, o.id)
		}
		// finish sets Shutdown before failing the registry. An add that lands
		// after that sweep is withdrawn here; one that lost the take to the
		// sweep has already been completed.
		if s.State() == StateShutdown {
			if _, ok := s.registry.take(o.id); ok {
				span.End()
				return "", ErrShutdown
			}
			return o.id, nil
		}
		observability.SetPendingRequests(s.registry.len())
	}
	s.enqueue(outbound{id: o.id, method: method, data: data})
	return o.id, nil
}

// Call is the blocking form of Send. Cancelling ctx abandons the wait; the
// request itself still completes or times out in the registry.
func (s *Session) Call(ctx context.Context, method string, params any, opts ...RequestOption) (json.RawMessage, error) {
	done := make(chan frame.Response, 1)
	if _, err := s.send(ctx, method, params, func(resp frame.Response) { done <- resp }, opts...); err != nil {
		return nil, err
	}
	select {
	case resp := <-done:
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func call[T any](ctx context.Context, s *Session, method string, params any, opts ...RequestOption) (T, error) {
	var out T
	raw, err := s.Call(ctx, method, params, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("session: decode %s result: %w", method, err)
	}
	return out, nil
}

func (s *Session) complete(p *pendingRequest, resp frame.Response) {
	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
		if resp.Error.Code == frame.CodeTimeout {
			outcome = "timeout"
		}
	}
	observability.RecordRequest(p.method, outcome, time.Since(p.sentAt))
	observability.SetPendingRequests(s.registry.len())
	if p.span != nil {
		if resp.Error != nil {
			p.span.RecordError(resp.Error)
			p.span.SetStatus(codes.Error, resp.Error.Message)
		}
		p.span.End()
	}
	if p.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("id", p.id).Str("method", p.method).Msg("request callback panicked")
		}
	}()
	p.callback(resp)
}

func (s *Session) failAll(code int, message string) {
	for _, p := range s.registry.takeAll() {
		s.complete(p, frame.NewErrorResponse(p.id, code, message))
	}
}

func (s *Session) enqueue(o outbound) {
	observability.SetQueuedFrames(s.queue.push(o))
	s.pump()
}

// pump starts a writer when the session is Running and nobody else is writing.
func (s *Session) pump() {
	s.mu.Lock()
	c := s.conn
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running || c == nil || c.transport == nil {
		return
	}
	if s.blocked() || !c.acquire() {
		return
	}
	if !s.goOp(c, func() { s.flush(c) }) {
		c.release()
	}
}

// blocked reports whether nothing in the queue may be written right now.
func (s *Session) blocked() bool {
	head, ok := s.queue.peek()
	if !ok {
		return true
	}
	return s.paused.Load() && !head.urgent
}

func (s *Session) writable(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning && s.conn == c
}

// flush drains the queue one frame at a time while holding the writer role.
// After releasing it re-checks the queue so a frame pushed during release is
// not stranded.
func (s *Session) flush(c *conn) {
	for {
		for s.writable(c) && !s.blocked() {
			o, ok := s.queue.pop()
			if !ok {
				break
			}
			observability.SetQueuedFrames(s.queue.len())
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			err := c.transport.WriteText(ctx, o.data)
			cancel()
			if err != nil {
				s.queue.pushFront(o)
				c.release()
				s.post(loopEvent{kind: evWriteFailed, gen: c.gen, err: err})
				return
			}
		}
		c.release()
		if !s.writable(c) || s.blocked() || !c.acquire() {
			return
		}
	}
}

// IdentityResult is the session.identity result.
type IdentityResult struct {
	Command    string   `json:"command"`
	Identities []string `json:"identities"`
}

type identityParams struct {
	Command    string   `json:"command"`
	Identities []string `json:"identities"`
}

// IdentityAdd registers additional identities for this node.
func (s *Session) IdentityAdd(ctx context.Context, identities ...string) (IdentityResult, error) {
	return call[IdentityResult](ctx, s, MethodIdentity, identityParams{Command: CommandAdd, Identities: identities})
}

func (s *Session) IdentityRemove(ctx context.Context, identities ...string) (IdentityResult, error) {
	return call[IdentityResult](ctx, s, MethodIdentity, identityParams{Command: CommandRemove, Identities: identities})
}

type protocolCommand struct {
	Command  string `json:"command"`
	Protocol string `json:"protocol"`
	Params   any    `json:"params,omitempty"`
}

// ProtocolResult is the session.protocol result.
type ProtocolResult struct {
	Command  string          `json:"command"`
	Protocol string          `json:"protocol"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// ProviderRegistration announces this node as a provider of a protocol.
type ProviderRegistration struct {
	cache.AccessDefaults
	Methods  []cache.Method  `json:"methods,omitempty"`
	Channels []cache.Channel `json:"channels,omitempty"`
	Rank     int             `json:"rank"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type rankParams struct {
	Rank int `json:"rank"`
}

type dataParams struct {
	Data json.RawMessage `json:"data"`
}

type methodsParams struct {
	Methods []cache.Method `json:"methods"`
}

type channelsParams struct {
	Channels []cache.Channel `json:"channels"`
}

func (s *Session) protocol(ctx context.Context, command, protocol string, params any) (ProtocolResult, error) {
	return call[ProtocolResult](ctx, s, MethodProtocol, protocolCommand{Command: command, Protocol: protocol, Params: params})
}

func (s *Session) ProtocolProviderAdd(ctx context.Context, protocol string, reg ProviderRegistration) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolProviderAdd, protocol, reg)
}

func (s *Session) ProtocolProviderRemove(ctx context.Context, protocol string) (ProtocolResult, error) {
	s.metrics.unregister(protocol)
	return s.protocol(ctx, ProtocolProviderRemove, protocol, nil)
}

func (s *Session) ProtocolRankUpdate(ctx context.Context, protocol string, rank int) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolRankUpdate, protocol, rankParams{Rank: rank})
}

func (s *Session) ProtocolDataUpdate(ctx context.Context, protocol string, data json.RawMessage) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolDataUpdate, protocol, dataParams{Data: data})
}

func (s *Session) ProtocolMethodAdd(ctx context.Context, protocol string, methods ...cache.Method) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolMethodAdd, protocol, methodsParams{Methods: methods})
}

func (s *Session) ProtocolMethodRemove(ctx context.Context, protocol string, methods ...string) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolMethodRemove, protocol, methodsParams{Methods: namedMethods(methods)})
}

func (s *Session) ProtocolChannelAdd(ctx context.Context, protocol string, channels ...cache.Channel) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolChannelAdd, protocol, channelsParams{Channels: channels})
}

func (s *Session) ProtocolChannelRemove(ctx context.Context, protocol string, channels ...string) (ProtocolResult, error) {
	return s.protocol(ctx, ProtocolChannelRemove, protocol, channelsParams{Channels: namedChannels(channels)})
}

// RegisterProtocolMetric tracks a locally provided protocol's rank for
// periodic republishing.
func (s *Session) RegisterProtocolMetric(protocol string, interval time.Duration, rank int) {
	if interval <= 0 {
		interval = s.cfg.PulseInterval
	}
	s.metrics.register(protocol, interval, rank, time.Now())
}

// UpdateProtocolRank changes the local rank; the pulse publishes it. It
// reports false when the protocol was never registered.
func (s *Session) UpdateProtocolRank(protocol string, rank int) bool {
	return s.metrics.update(protocol, rank)
}

// ProtocolRank returns the locally tracked rank.
func (s *Session) ProtocolRank(protocol string) (int, bool) {
	return s.metrics.rank(protocol)
}

type subscriptionParams struct {
	Command  string   `json:"command"`
	Protocol string   `json:"protocol"`
	Channels []string `json:"channels"`
}

// SubscriptionResult reports which channels the peer accepted.
type SubscriptionResult struct {
	Command              string   `json:"command"`
	Protocol             string   `json:"protocol"`
	SubscribeChannels    []string `json:"subscribe_channels,omitempty"`
	FailedChannels       []string `json:"failed_channels,omitempty"`
	UnauthorizedChannels []string `json:"unauthorized_channels,omitempty"`
}

func (s *Session) Subscribe(ctx context.Context, protocol string, channels ...string) (SubscriptionResult, error) {
	return call[SubscriptionResult](ctx, s, MethodSubscription, subscriptionParams{Command: CommandAdd, Protocol: protocol, Channels: channels})
}

func (s *Session) Unsubscribe(ctx context.Context, protocol string, channels ...string) (SubscriptionResult, error) {
	return call[SubscriptionResult](ctx, s, MethodSubscription, subscriptionParams{Command: CommandRemove, Protocol: protocol, Channels: channels})
}

// Execute invokes a protocol method. Without an explicit responder a random
// cached provider other than this node is chosen.
func (s *Session) Execute(ctx context.Context, req ExecuteRequest, opts ...RequestOption) (ExecuteResult, error) {
	self := s.Identity().NodeID
	if req.ResponderNodeID == "" {
		p, ok := s.cache.RandomProvider(req.Protocol, self)
		if !ok {
			return ExecuteResult{}, fmt.Errorf("%w: %s", ErrNoProvider, req.Protocol)
		}
		req.ResponderNodeID = p.NodeID
	}
	if req.RequesterNodeID == "" {
		req.RequesterNodeID = self
	}
	return call[ExecuteResult](ctx, s, MethodExecute, req, opts...)
}

// Broadcast publishes an event on a protocol channel.
func (s *Session) Broadcast(ctx context.Context, b Broadcast) error {
	if b.BroadcasterNodeID == "" {
		b.BroadcasterNodeID = s.Identity().NodeID
	}
	_, err := s.Call(ctx, MethodBroadcast, b)
	return err
}

// Unicast sends an event to one node id or identity.
func (s *Session) Unicast(ctx context.Context, u Unicast) error {
	if u.SenderNodeID == "" {
		u.SenderNodeID = s.Identity().NodeID
	}
	_, err := s.Call(ctx, MethodUnicast, u)
	return err
}

type authenticateParams struct {
	Authentication json.RawMessage `json:"authentication"`
}

type authenticateResult struct {
	Authorization json.RawMessage `json:"authorization"`
}

// Authenticate exchanges a credential for an authorization block and caches
// it under auth.Key(credential).
func (s *Session) Authenticate(ctx context.Context, credential json.RawMessage) (json.RawMessage, error) {
	return s.authenticate(ctx, MethodAuthenticate, credential)
}

func (s *Session) Reauthenticate(ctx context.Context, credential json.RawMessage) (json.RawMessage, error) {
	return s.authenticate(ctx, MethodReauthenticate, credential)
}

func (s *Session) authenticate(ctx context.Context, method string, credential json.RawMessage) (json.RawMessage, error) {
	key, err := auth.Key(credential)
	if err != nil {
		return nil, err
	}
	res, err := call[authenticateResult](ctx, s, method, authenticateParams{Authentication: credential})
	if err != nil {
		return nil, err
	}
	if len(res.Authorization) > 0 {
		s.cache.PutAuthorization(cache.Authorization{Key: key, Block: res.Authorization})
	}
	return res.Authorization, nil
}

type authorityParams struct {
	Command string `json:"command"`
}

func (s *Session) AuthorityAdd(ctx context.Context) error {
	_, err := s.Call(ctx, MethodAuthority, authorityParams{Command: CommandAdd})
	return err
}

func (s *Session) AuthorityRemove(ctx context.Context) error {
	_, err := s.Call(ctx, MethodAuthority, authorityParams{Command: CommandRemove})
	return err
}

// OnBroadcast registers fn for inbound broadcasts on protocol/channel.
func (s *Session) OnBroadcast(protocol, channel string, fn func(Broadcast)) (remove func()) {
	return s.handlers.onBroadcast(protocol, channel, fn)
}

// OnUnicast registers fn for inbound unicasts addressed to target.
func (s *Session) OnUnicast(target string, fn func(Unicast)) (remove func()) {
	return s.handlers.onUnicast(target, fn)
}

// HandleMethod serves inbound executes of protocol/method. A later
// registration for the same pair replaces the earlier one.
func (s *Session) HandleMethod(protocol, method string, fn MethodHandler) (remove func()) {
	return s.handlers.handle(protocol, method, fn)
}

func namedMethods(names []string) []cache.Method {
	out := make([]cache.Method, 0, len(names))
	for _, n := range names {
		out = append(out, cache.Method{Name: n})
	}
	return out
}

func namedChannels(names []string) []cache.Channel {
	out := make([]cache.Channel, 0, len(names))
	for _, n := range names {
		out = append(out, cache.Channel{Name: n})
	}
	return out
}
