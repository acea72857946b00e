package cache

import (
	"encoding/json"
	"sort"
)

// ACL is an access level attached to protocol methods and channels.
type ACL int

const (
	ACLSystem  ACL = 0
	ACLService ACL = 1
	ACLPublic  ACL = 2
)

// Route is a reachable remote peer and the identities it answers to.
type Route struct {
	NodeID     string   `json:"nodeid"`
	Identities []string `json:"identities,omitempty"`
}

// Method is one executable protocol method.
type Method struct {
	Name          string `json:"name"`
	ExecuteAccess ACL    `json:"execute_access"`
}

// Channel is one broadcast channel of a protocol.
type Channel struct {
	Name            string `json:"name"`
	BroadcastAccess ACL    `json:"broadcast_access"`
	SubscribeAccess ACL    `json:"subscribe_access"`
}

// Provider is a node implementing a protocol.
type Provider struct {
	NodeID string          `json:"nodeid"`
	Data   json.RawMessage `json:"data,omitempty"`
	Rank   int             `json:"rank"`
}

// AccessDefaults are the access levels applied to methods and channels that
// do not carry their own.
type AccessDefaults struct {
	MethodExecute    ACL `json:"default_method_execute_access"`
	ChannelBroadcast ACL `json:"default_channel_broadcast_access"`
	ChannelSubscribe ACL `json:"default_channel_subscribe_access"`
}

// Protocol is a copy of one certified protocol. Mutating it does not affect
// the cache.
type Protocol struct {
	Name      string
	Defaults  AccessDefaults
	Methods   map[string]Method
	Channels  map[string]Channel
	Providers map[string]Provider
}

// ProviderIDs returns the provider node ids in sorted order.
func (p Protocol) ProviderIDs() []string {
	return sortedKeys(p.Providers)
}

// Subscription is a remote node's interest in one protocol channel.
type Subscription struct {
	NodeID   string `json:"nodeid"`
	Protocol string `json:"protocol"`
	Channel  string `json:"channel"`
}

// Authorization is a cached authorization block keyed by authentication key.
type Authorization struct {
	Key   string          `json:"authentication_key"`
	Block json.RawMessage `json:"authorization"`
}

// Access binds a node to an authorization.
type Access struct {
	NodeID string `json:"nodeid"`
	Key    string `json:"authentication_key"`
}

// Stats counts entities per collection.
type Stats struct {
	Routes         int `json:"routes"`
	Protocols      int `json:"protocols"`
	Uncertified    int `json:"protocols_uncertified"`
	Subscriptions  int `json:"subscriptions"`
	Authorities    int `json:"authorities"`
	Authorizations int `json:"authorizations"`
	Accesses       int `json:"accesses"`
}

// ProtocolEntry is the snapshot shape of one protocol.
type ProtocolEntry struct {
	Name string `json:"name"`
	AccessDefaults
	Methods   []Method   `json:"methods,omitempty"`
	Channels  []Channel  `json:"channels,omitempty"`
	Providers []Provider `json:"providers,omitempty"`
}

// Snapshot is the full directory state delivered by a fresh handshake.
type Snapshot struct {
	Routes         []Route         `json:"routes,omitempty"`
	Protocols      []ProtocolEntry `json:"protocols,omitempty"`
	Subscriptions  []Subscription  `json:"subscriptions,omitempty"`
	Authorities    []string        `json:"authorities,omitempty"`
	Authorizations []Authorization `json:"authorizations,omitempty"`
	Accesses       []Access        `json:"accesses,omitempty"`
	Uncertified    []string        `json:"protocols_uncertified,omitempty"`
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
