package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Netcast commands understood by ApplyNetcast.
const (
	CmdRouteAdd               = "route.add"
	CmdRouteRemove            = "route.remove"
	CmdIdentityAdd            = "identity.add"
	CmdIdentityRemove         = "identity.remove"
	CmdProtocolAdd            = "protocol.add"
	CmdProtocolRemove         = "protocol.remove"
	CmdProtocolProviderAdd    = "protocol.provider.add"
	CmdProtocolProviderRemove = "protocol.provider.remove"
	CmdProtocolProviderRank   = "protocol.provider.rank.update"
	CmdProtocolProviderData   = "protocol.provider.data.update"
	CmdProtocolMethodAdd      = "protocol.method.add"
	CmdProtocolMethodRemove   = "protocol.method.remove"
	CmdProtocolChannelAdd     = "protocol.channel.add"
	CmdProtocolChannelRemove  = "protocol.channel.remove"
	CmdSubscriptionAdd        = "subscription.add"
	CmdSubscriptionRemove     = "subscription.remove"
	CmdAuthorityAdd           = "authority.add"
	CmdAuthorityRemove        = "authority.remove"
	CmdAuthorizationAdd       = "authorization.add"
	CmdAuthorizationRemove    = "authorization.remove"
	CmdAccessAdd              = "access.add"
	CmdAccessRemove           = "access.remove"
)

var (
	ErrUnknownCommand  = errors.New("cache: unknown netcast command")
	ErrInvalidNetcast  = errors.New("cache: invalid netcast params")
	errMissingProtocol = errors.New("missing protocol")
	errMissingNodeID   = errors.New("missing nodeid")
)

// Netcast is the params object of a session.netcast frame.
type Netcast struct {
	Command       string          `json:"command"`
	CertifiedOnly bool            `json:"certified_only,omitempty"`
	NetcastNodeID string          `json:"netcast_nodeid,omitempty"`
	Params        json.RawMessage `json:"params"`
}

type nodeParams struct {
	NodeID string `json:"nodeid"`
}

type identityParams struct {
	NodeID     string   `json:"nodeid"`
	Identities []string `json:"identities"`
}

type protocolParams struct {
	Protocol string `json:"protocol"`
}

type providerParams struct {
	Protocol string `json:"protocol"`
	NodeID   string `json:"nodeid"`
	AccessDefaults
	Methods  []Method        `json:"methods,omitempty"`
	Channels []Channel       `json:"channels,omitempty"`
	Rank     int             `json:"rank"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type methodParams struct {
	Protocol string   `json:"protocol"`
	Methods  []Method `json:"methods"`
}

type channelParams struct {
	Protocol string    `json:"protocol"`
	Channels []Channel `json:"channels"`
}

type subscriptionParams struct {
	Protocol string   `json:"protocol"`
	NodeID   string   `json:"nodeid"`
	Channels []string `json:"channels"`
}

type authorizationParams struct {
	Key   string          `json:"authentication_key"`
	Block json.RawMessage `json:"authorization,omitempty"`
}

// ApplyNetcast applies one incremental netcast command. Unknown commands
// return ErrUnknownCommand and leave the cache untouched; callers log and
// ignore them.
func (c *Cache) ApplyNetcast(n Netcast) error {
	switch n.Command {
	case CmdRouteAdd:
		var p Route
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		c.AddRoute(p)
	case CmdRouteRemove:
		var p nodeParams
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		c.RemoveRoute(p.NodeID)
	case CmdIdentityAdd, CmdIdentityRemove:
		var p identityParams
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		for _, identity := range p.Identities {
			if n.Command == CmdIdentityAdd {
				c.AddIdentity(p.NodeID, identity)
			} else {
				c.RemoveIdentity(p.NodeID, identity)
			}
		}
	case CmdProtocolAdd, CmdProtocolRemove:
		var p protocolParams
		if err := decode(n, &p, func() error { return requireProtocol(p.Protocol) }); err != nil {
			return err
		}
		if n.Command == CmdProtocolAdd {
			c.AddUncertifiedProtocol(p.Protocol)
		} else {
			c.RemoveUncertifiedProtocol(p.Protocol)
		}
	case CmdProtocolProviderAdd:
		var p providerParams
		if err := decode(n, &p, validProvider(&p)); err != nil {
			return err
		}
		c.AddProvider(p.Protocol, p.AccessDefaults, p.Methods, p.Channels, Provider{NodeID: p.NodeID, Data: p.Data, Rank: p.Rank})
	case CmdProtocolProviderRemove:
		var p providerParams
		if err := decode(n, &p, validProvider(&p)); err != nil {
			return err
		}
		c.RemoveProvider(p.Protocol, p.NodeID)
	case CmdProtocolProviderRank:
		var p providerParams
		if err := decode(n, &p, validProvider(&p)); err != nil {
			return err
		}
		c.UpdateProviderRank(p.Protocol, p.NodeID, p.Rank)
	case CmdProtocolProviderData:
		var p providerParams
		if err := decode(n, &p, validProvider(&p)); err != nil {
			return err
		}
		c.UpdateProviderData(p.Protocol, p.NodeID, p.Data)
	case CmdProtocolMethodAdd, CmdProtocolMethodRemove:
		var p methodParams
		if err := decode(n, &p, func() error { return requireProtocol(p.Protocol) }); err != nil {
			return err
		}
		if n.Command == CmdProtocolMethodAdd {
			c.AddMethods(p.Protocol, p.Methods...)
		} else {
			names := make([]string, 0, len(p.Methods))
			for _, m := range p.Methods {
				names = append(names, m.Name)
			}
			c.RemoveMethods(p.Protocol, names...)
		}
	case CmdProtocolChannelAdd, CmdProtocolChannelRemove:
		var p channelParams
		if err := decode(n, &p, func() error { return requireProtocol(p.Protocol) }); err != nil {
			return err
		}
		if n.Command == CmdProtocolChannelAdd {
			c.AddChannels(p.Protocol, p.Channels...)
		} else {
			names := make([]string, 0, len(p.Channels))
			for _, ch := range p.Channels {
				names = append(names, ch.Name)
			}
			c.RemoveChannels(p.Protocol, names...)
		}
	case CmdSubscriptionAdd, CmdSubscriptionRemove:
		var p subscriptionParams
		if err := decode(n, &p, func() error {
			if err := requireProtocol(p.Protocol); err != nil {
				return err
			}
			return requireNode(p.NodeID)
		}); err != nil {
			return err
		}
		for _, channel := range p.Channels {
			s := Subscription{NodeID: p.NodeID, Protocol: p.Protocol, Channel: channel}
			if n.Command == CmdSubscriptionAdd {
				c.AddSubscription(s)
			} else {
				c.RemoveSubscription(s)
			}
		}
	case CmdAuthorityAdd, CmdAuthorityRemove:
		var p nodeParams
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		if n.Command == CmdAuthorityAdd {
			c.AddAuthority(p.NodeID)
		} else {
			c.RemoveAuthority(p.NodeID)
		}
	case CmdAuthorizationAdd, CmdAuthorizationRemove:
		var p authorizationParams
		if err := decode(n, &p, func() error {
			if p.Key == "" {
				return errors.New("missing authentication_key")
			}
			return nil
		}); err != nil {
			return err
		}
		if n.Command == CmdAuthorizationAdd {
			c.AddAuthorization(Authorization{Key: p.Key, Block: p.Block})
		} else {
			c.RemoveAuthorization(p.Key)
		}
	case CmdAccessAdd:
		var p Access
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		c.AddAccess(p)
	case CmdAccessRemove:
		var p nodeParams
		if err := decode(n, &p, func() error { return requireNode(p.NodeID) }); err != nil {
			return err
		}
		c.RemoveAccess(p.NodeID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, n.Command)
	}
	return nil
}

func validProvider(p *providerParams) func() error {
	return func() error {
		if err := requireProtocol(p.Protocol); err != nil {
			return err
		}
		return requireNode(p.NodeID)
	}
}

func decode(n Netcast, out any, validate func() error) error {
	if len(n.Params) == 0 {
		return fmt.Errorf("%w: %s: missing params", ErrInvalidNetcast, n.Command)
	}
	if err := json.Unmarshal(n.Params, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidNetcast, n.Command, err)
	}
	if err := validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidNetcast, n.Command, err)
	}
	return nil
}

func requireNode(nodeID string) error {
	if nodeID == "" {
		return errMissingNodeID
	}
	return nil
}

func requireProtocol(protocol string) error {
	if protocol == "" {
		return errMissingProtocol
	}
	return nil
}
