package frame

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeRequestDecodeMessage(t *testing.T) {
	req, err := NewRequest("req-1", "echo", map[string]string{"payload": "x"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	data, err := EncodeRequest(req, DefaultLimits())
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	msg, err := Decode(data, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.IsRequest() || msg.Method != "echo" || msg.ID != "req-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var params map[string]string
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params["payload"] != "x" {
		t.Fatalf("payload mismatch: %v", params)
	}
}

func TestEncodeRequestNullParams(t *testing.T) {
	data, err := EncodeRequest(Request{ID: "a", Method: "session.disconnect"}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"params":null`) {
		t.Fatalf("expected explicit null params: %s", data)
	}
	if !strings.Contains(string(data), `"jsonrpc":"2.0"`) {
		t.Fatalf("expected version tag: %s", data)
	}
}

func TestEncodeRequestRejectsOversizedFrame(t *testing.T) {
	big := strings.Repeat("x", 2048)
	req, err := NewRequest("big", "echo", map[string]string{"payload": big})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = EncodeRequest(req, Limits{MaxFrameBytes: 1024})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeErrorResponse(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":"r1","error":{"code":-32602,"message":"bad params","responder_nodeid":"n2"}}`
	msg, err := Decode([]byte(raw), DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.IsRequest() {
		t.Fatalf("expected response")
	}
	resp := msg.Response()
	if !resp.Failed() {
		t.Fatalf("expected failure")
	}
	if CodeOf(resp.Err()) != CodeInvalidParams {
		t.Fatalf("unexpected code: %d", CodeOf(resp.Err()))
	}
	if resp.Error.ResponderNodeID != "n2" {
		t.Fatalf("responder mismatch: %+v", resp.Error)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"wrong version": `{"jsonrpc":"1.0","id":"a","result":{}}`,
		"missing id":    `{"jsonrpc":"2.0","method":"x"}`,
		"ambiguous":     `{"jsonrpc":"2.0","id":"a","result":{},"error":{"code":1,"message":"m"}}`,
		"empty":         `{"jsonrpc":"2.0","id":"a"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw), DefaultLimits()); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestDecodeEmptyResponse(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","id":"r1"}`), DefaultLimits())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":"r1","result":null}`), DefaultLimits())
	if err != nil {
		t.Fatalf("null result is a success: %v", err)
	}
	if msg.Response().Failed() {
		t.Fatalf("unexpected failure: %+v", msg)
	}
}

func TestEncodeResponseDefaultsEmptyResult(t *testing.T) {
	data, err := EncodeResponse(Response{ID: "x"}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"result":{}`) {
		t.Fatalf("expected empty result object: %s", data)
	}
	_, err = EncodeResponse(Response{ID: "x", Result: json.RawMessage(`{}`), Error: NewError(CodeFailed, "x")}, DefaultLimits())
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}

func TestDecodeParamsInvalid(t *testing.T) {
	var out struct {
		Protocol string `json:"protocol"`
	}
	err := DecodeParams(json.RawMessage(`{"protocol":5}`), &out)
	if CodeOf(err) != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
	err = DecodeParams(nil, &out)
	if CodeOf(err) != CodeInvalidParams {
		t.Fatalf("expected invalid params for missing params, got %v", err)
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := error(NewError(CodeTimeout, "request timed out"))
	if !errors.Is(err, NewError(CodeTimeout, "")) {
		t.Fatalf("expected code match")
	}
	if errors.Is(err, NewError(CodeFailed, "")) {
		t.Fatalf("unexpected code match")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification")
	}
}
