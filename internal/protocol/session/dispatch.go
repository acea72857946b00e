package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/bladectl/internal/cache"
	"github.com/danmuck/bladectl/internal/observability"
	"github.com/danmuck/bladectl/internal/protocol/frame"
)

// dispatchLoop processes inbound frames in arrival order. Responses,
// netcasts and event deliveries run inline; execute handlers get their own
// goroutine so a slow handler cannot stall cache synchronization.
func (s *Session) dispatchLoop() {
	defer s.workers.Done()
	for {
		select {
		case <-s.stopped:
			return
		case in := <-s.inbound:
			s.handleInbound(in)
		}
	}
}

// handleInbound still processes frames read from a connection that has since
// been replaced: they precede the new handshake in wire order, and responses
// to a resumed session's requests remain valid.
func (s *Session) handleInbound(in inboundFrame) {
	if gen := s.currentGen(); in.gen != gen {
		s.log.Debug().Uint64("conn", in.gen).Uint64("current", gen).Msg("frame from superseded connection")
	}
	s.handleFrame(in.data)
}

func (s *Session) handleFrame(data []byte) {
	msg, err := frame.Decode(data, s.cfg.Limits)
	if err != nil {
		observability.RecordInbound("malformed")
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return
	}
	if !msg.IsRequest() {
		s.handleResponse(msg.Response())
		return
	}

	req := msg.Request()
	switch req.Method {
	case MethodNetcast:
		observability.RecordInbound("netcast")
		s.handleNetcast(req)
	case MethodBroadcast:
		observability.RecordInbound("broadcast")
		s.handleBroadcast(req)
	case MethodUnicast:
		observability.RecordInbound("unicast")
		s.handleUnicast(req)
	case MethodExecute:
		observability.RecordInbound("execute")
		s.handleExecute(req)
	case MethodDisconnect:
		observability.RecordInbound("disconnect")
		s.handleRemoteDisconnect(req)
	default:
		observability.RecordInbound("unknown")
		s.log.Debug().Str("method", req.Method).Str("id", req.ID).Msg("unknown inbound method")
		s.respond(frame.NewErrorResponse(req.ID, frame.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)), false)
	}
}

func (s *Session) handleResponse(resp frame.Response) {
	p, ok := s.registry.take(resp.ID)
	if !ok {
		observability.RecordInbound("orphan")
		s.log.Debug().Str("id", resp.ID).Msg("dropping response for unknown request")
		return
	}
	observability.RecordInbound("response")
	s.complete(p, resp)
}

func (s *Session) handleNetcast(req frame.Request) {
	var n cache.Netcast
	if err := frame.DecodeParams(req.Params, &n); err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed netcast")
		return
	}
	err := s.cache.ApplyNetcast(n)
	observability.RecordNetcast(n.Command, err == nil)
	switch {
	case errors.Is(err, cache.ErrUnknownCommand):
		s.log.Warn().Str("command", n.Command).Msg("ignoring unknown netcast command")
	case err != nil:
		s.log.Warn().Err(err).Str("command", n.Command).Msg("netcast rejected")
	}
}

func (s *Session) handleBroadcast(req frame.Request) {
	var b Broadcast
	if err := frame.DecodeParams(req.Params, &b); err != nil || b.Protocol == "" || b.Channel == "" {
		s.log.Warn().Err(err).Msg("dropping malformed broadcast")
		return
	}
	if !s.handlers.broadcast(b) {
		s.log.Debug().Str("protocol", b.Protocol).Str("channel", b.Channel).Msg("no broadcast handler")
	}
}

func (s *Session) handleUnicast(req frame.Request) {
	var u Unicast
	if err := frame.DecodeParams(req.Params, &u); err != nil || u.Target == "" {
		s.log.Warn().Err(err).Msg("dropping malformed unicast")
		return
	}
	if !s.handlers.unicast(u) {
		s.log.Debug().Str("target", u.Target).Str("event", u.Event).Msg("no unicast handler")
	}
}

func (s *Session) handleExecute(req frame.Request) {
	var e ExecuteRequest
	if err := frame.DecodeParams(req.Params, &e); err != nil {
		resp := frame.NewErrorResponse(req.ID, frame.CodeInvalidParams, "invalid params")
		var fe *frame.Error
		if errors.As(err, &fe) {
			resp.Error.Message = fe.Message
		}
		s.respond(resp, false)
		return
	}
	if e.Protocol == "" || e.Method == "" {
		s.respond(frame.NewErrorResponse(req.ID, frame.CodeInvalidParams, "protocol and method required"), false)
		return
	}
	handler, ok := s.handlers.method(e.Protocol, e.Method)
	if !ok {
		resp := frame.NewErrorResponse(req.ID, frame.CodeMethodNotFound, fmt.Sprintf("method not found: %s.%s", e.Protocol, e.Method))
		resp.Error.RequesterNodeID = e.RequesterNodeID
		resp.Error.ResponderNodeID = e.ResponderNodeID
		s.respond(resp, false)
		return
	}
	go s.serveExecute(req.ID, e, handler)
}

func (s *Session) serveExecute(id string, e ExecuteRequest, handler MethodHandler) {
	result, err := s.invoke(handler, e)
	if err != nil {
		code := frame.CodeOf(err)
		if code == 0 {
			code = frame.CodeFailed
		}
		resp := frame.NewErrorResponse(id, code, err.Error())
		var fe *frame.Error
		if errors.As(err, &fe) {
			resp.Error.Message = fe.Message
		}
		resp.Error.RequesterNodeID = e.RequesterNodeID
		resp.Error.ResponderNodeID = e.ResponderNodeID
		s.respond(resp, false)
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.respond(frame.NewErrorResponse(id, frame.CodeFailed, "marshal result: "+err.Error()), false)
		return
	}
	resp, err := frame.NewResult(id, ExecuteResult{
		RequesterNodeID: e.RequesterNodeID,
		ResponderNodeID: e.ResponderNodeID,
		Result:          raw,
	})
	if err != nil {
		resp = frame.NewErrorResponse(id, frame.CodeFailed, err.Error())
	}
	s.respond(resp, false)
}

func (s *Session) invoke(handler MethodHandler, e ExecuteRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("protocol", e.Protocol).Str("method", e.Method).Msg("execute handler panicked")
			err = frame.NewError(frame.CodeFailed, "handler failed")
		}
	}()
	return handler(s.ctx, e)
}

// handleRemoteDisconnect pauses the send pipeline until the connection drops
// and a new handshake succeeds. The acknowledgement is the last frame written.
func (s *Session) handleRemoteDisconnect(req frame.Request) {
	s.paused.Store(true)
	s.log.Info().Msg("peer requested pause; holding send pipeline")
	resp, _ := frame.NewResult(req.ID, struct{}{})
	s.respond(resp, true)
}

// respond queues a response frame. Urgent responses jump the queue and are
// written even while paused.
func (s *Session) respond(resp frame.Response, urgent bool) {
	data, err := frame.EncodeResponse(resp, s.cfg.Limits)
	if err != nil {
		s.log.Warn().Err(err).Str("id", resp.ID).Msg("response not encodable")
		data, err = frame.EncodeResponse(frame.NewErrorResponse(resp.ID, frame.CodeFailed, "response too large"), s.cfg.Limits)
		if err != nil {
			return
		}
	}
	o := outbound{id: resp.ID, data: data, urgent: urgent}
	if urgent {
		s.queue.pushFront(o)
		observability.SetQueuedFrames(s.queue.len())
		s.pump()
		return
	}
	s.enqueue(o)
}
