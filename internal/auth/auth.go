// Package auth provides credential helpers for session authentication.
//
// Credentials are opaque JSON payloads. The engine never interprets them; it
// only hashes them into authentication keys under which authorization blocks
// are cached.
package auth

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/sha3"
)

var (
	ErrUnauthorized      = errors.New("auth: unauthorized")
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// Key returns the authentication key for a credential: the hex SHA3-256 of
// its compact JSON form, so formatting differences map to the same key.
func Key(credential json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(credential)) == 0 {
		return "", ErrInvalidCredential
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, credential); err != nil {
		return "", errors.Join(ErrInvalidCredential, err)
	}
	sum := sha3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// TokenCredential is the simplest credential shape: a bearer token.
type TokenCredential struct {
	Token string `json:"token"`
}

func NewTokenCredential(token string) json.RawMessage {
	data, _ := json.Marshal(TokenCredential{Token: token})
	return data
}

// Validator validates a credential payload presented during a handshake.
type Validator interface {
	Validate(credential json.RawMessage) error
}

// StaticToken accepts only TokenCredential payloads carrying Token.
// It is intended only for development and tests.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(credential json.RawMessage) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	var c TokenCredential
	if err := json.Unmarshal(credential, &c); err != nil {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(c.Token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(credential json.RawMessage) error

func (f FuncValidator) Validate(credential json.RawMessage) error {
	return f(credential)
}
