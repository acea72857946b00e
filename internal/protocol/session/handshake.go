package session

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/danmuck/bladectl/internal/cache"
)

// Well-known protocol methods.
const (
	MethodConnect        = "session.connect"
	MethodDisconnect     = "session.disconnect"
	MethodNetcast        = "session.netcast"
	MethodBroadcast      = "session.broadcast"
	MethodUnicast        = "session.unicast"
	MethodExecute        = "session.execute"
	MethodAuthenticate   = "session.authenticate"
	MethodReauthenticate = "session.reauthenticate"
	MethodIdentity       = "session.identity"
	MethodProtocol       = "session.protocol"
	MethodSubscription   = "session.subscription"
	MethodAuthority      = "session.authority"
)

var ErrInvalidConnectResult = errors.New("session: invalid connect result")

// ProtocolVersion is announced in every handshake.
type ProtocolVersion struct {
	Major    int `json:"major"`
	Minor    int `json:"minor"`
	Revision int `json:"revision"`
}

var CurrentVersion = ProtocolVersion{Major: 2, Minor: 1, Revision: 0}

// ConnectParams is the session.connect request body. SessionID is set when
// asking to resume a prior session.
type ConnectParams struct {
	Version        ProtocolVersion `json:"version"`
	SessionID      string          `json:"sessionid,omitempty"`
	Authentication json.RawMessage `json:"authentication,omitempty"`
	Agent          string          `json:"agent,omitempty"`
	Identity       string          `json:"identity,omitempty"`
	Network        bool            `json:"network,omitempty"`
}

// ConnectResult is the session.connect response. The embedded snapshot is
// only applied when the session was not restored.
type ConnectResult struct {
	SessionID     string          `json:"sessionid"`
	NodeID        string          `json:"nodeid"`
	MasterNodeID  string          `json:"master_nodeid"`
	Authorization json.RawMessage `json:"authorization,omitempty"`
	cache.Snapshot
}

func (r ConnectResult) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return errors.Join(ErrInvalidConnectResult, errors.New("missing sessionid"))
	}
	if strings.TrimSpace(r.NodeID) == "" {
		return errors.Join(ErrInvalidConnectResult, errors.New("missing nodeid"))
	}
	return nil
}

func (c Config) connectParams(sessionID string) ConnectParams {
	return ConnectParams{
		Version:        CurrentVersion,
		SessionID:      sessionID,
		Authentication: c.Authentication,
		Agent:          c.Agent,
		Identity:       c.Identity,
		Network:        c.Network,
	}
}
