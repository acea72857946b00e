package auth

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/bladectl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   json.RawMessage
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: NewTokenCredential("abc"), wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: NewTokenCredential("xyz"), wantErr: ErrUnauthorized},
		{name: "malformed credential denied", stored: "abc", input: json.RawMessage(`[`), wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: NewTokenCredential("abc"), wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			log.Debug().Str("stored", tc.stored).Err(err).Msg("auth/static-token")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(credential json.RawMessage) error {
		if string(credential) != `{"token":"ok"}` {
			return ErrUnauthorized
		}
		return nil
	})
	if err := validator.Validate(NewTokenCredential("ok")); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := validator.Validate(NewTokenCredential("bad")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestKeyIgnoresFormatting(t *testing.T) {
	testlog.Start(t)
	a, err := Key(json.RawMessage(`{"token":"abc"}`))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	b, err := Key(json.RawMessage("{ \"token\" : \"abc\" }\n"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal keys: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	c, _ := Key(NewTokenCredential("other"))
	if c == a {
		t.Fatalf("expected distinct keys for distinct credentials")
	}
}

func TestKeyRejectsInvalidCredential(t *testing.T) {
	testlog.Start(t)
	if _, err := Key(nil); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if _, err := Key(json.RawMessage(`{`)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}
