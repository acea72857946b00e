package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the JSON-RPC version tag carried by every envelope.
const Version = "2.0"

var (
	ErrFrameTooLarge  = errors.New("frame: frame too large")
	ErrInvalidVersion = errors.New("frame: invalid jsonrpc version")
	ErrMissingID      = errors.New("frame: missing id")
	ErrMissingMethod  = errors.New("frame: missing method")
	ErrAmbiguous      = errors.New("frame: response carries both result and error")
	ErrEmptyResponse  = errors.New("frame: response carries neither result nor error")
)

// Limits constrains encode/decode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1024 * 1024,
	}
}

func (l Limits) check(n int) error {
	if l.MaxFrameBytes > 0 && n > l.MaxFrameBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, l.MaxFrameBytes)
	}
	return nil
}

// Request is an outbound or inbound method invocation.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the reply to a Request. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != nil
}

// Err returns the response error as an error value, or nil on success.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Message is the decoded shape of any inbound frame before classification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message is a method invocation.
func (m Message) IsRequest() bool {
	return m.Method != ""
}

func (m Message) Request() Request {
	return Request{JSONRPC: m.JSONRPC, ID: m.ID, Method: m.Method, Params: m.Params}
}

func (m Message) Response() Response {
	return Response{JSONRPC: m.JSONRPC, ID: m.ID, Result: m.Result, Error: m.Error}
}

// NewRequest builds a request envelope, marshaling params when not already raw.
func NewRequest(id, method string, params any) (Request, error) {
	if strings.TrimSpace(id) == "" {
		return Request{}, ErrMissingID
	}
	if strings.TrimSpace(method) == "" {
		return Request{}, ErrMissingMethod
	}
	raw, err := marshalRaw(params)
	if err != nil {
		return Request{}, fmt.Errorf("frame: marshal params for %s: %w", method, err)
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewResult builds a success response.
func NewResult(id string, result any) (Response, error) {
	raw, err := marshalRaw(result)
	if err != nil {
		return Response{}, fmt.Errorf("frame: marshal result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func EncodeRequest(req Request, limits Limits) ([]byte, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = Version
	}
	if req.ID == "" {
		return nil, ErrMissingID
	}
	if req.Method == "" {
		return nil, ErrMissingMethod
	}
	if req.Params == nil {
		req.Params = json.RawMessage("null")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := limits.check(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func EncodeResponse(resp Response, limits Limits) ([]byte, error) {
	if resp.JSONRPC == "" {
		resp.JSONRPC = Version
	}
	if resp.ID == "" {
		return nil, ErrMissingID
	}
	if resp.Error != nil && resp.Result != nil {
		return nil, ErrAmbiguous
	}
	if resp.Error == nil && resp.Result == nil {
		resp.Result = json.RawMessage("{}")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if err := limits.check(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode parses one inbound text frame.
func Decode(data []byte, limits Limits) (Message, error) {
	if err := limits.check(len(data)); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("frame: decode: %w", err)
	}
	if msg.JSONRPC != Version {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidVersion, msg.JSONRPC)
	}
	if msg.ID == "" {
		return Message{}, ErrMissingID
	}
	if !msg.IsRequest() {
		switch {
		case msg.Error != nil && len(msg.Result) > 0:
			return Message{}, ErrAmbiguous
		case msg.Error == nil && len(msg.Result) == 0:
			return Message{}, fmt.Errorf("%w: %s", ErrEmptyResponse, msg.ID)
		}
	}
	return msg, nil
}

// DecodeParams unmarshals request params into out, reporting an invalid-params error.
func DecodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return NewError(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(CodeInvalidParams, err.Error())
	}
	return nil
}

func marshalRaw(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
