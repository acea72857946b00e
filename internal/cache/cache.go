// Package cache is the client-side replica of server-authoritative directory
// state: routes, protocols and their providers, subscriptions, authorities,
// authorizations and accesses.
//
// The cache is fed only by inbound frames: a full Snapshot on every fresh
// handshake and incremental netcast commands afterwards. All collections share
// one lock, so compound mutations such as removing the last provider of a
// protocol are atomic with respect to concurrent provider adds.
//
// Event listeners run after the mutation that produced them, serialized in
// mutation order. Listeners may read the cache but must not mutate it.
package cache

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"

	"github.com/danmuck/bladectl/internal/observability"
	"github.com/rs/zerolog"
)

type protocolState struct {
	defaults  AccessDefaults
	methods   map[string]Method
	channels  map[string]Channel
	providers map[string]Provider
}

func (p *protocolState) view(name string) Protocol {
	out := Protocol{
		Name:      name,
		Defaults:  p.defaults,
		Methods:   make(map[string]Method, len(p.methods)),
		Channels:  make(map[string]Channel, len(p.channels)),
		Providers: make(map[string]Provider, len(p.providers)),
	}
	for k, v := range p.methods {
		out.Methods[k] = v
	}
	for k, v := range p.channels {
		out.Channels[k] = v
	}
	for k, v := range p.providers {
		v.Data = cloneRaw(v.Data)
		out.Providers[k] = v
	}
	return out
}

type Cache struct {
	// emit serializes mutation+notification so listeners observe events in
	// mutation order.
	emit sync.Mutex
	mu   sync.RWMutex

	routes         map[string]map[string]struct{}
	identities     map[string]string
	protocols      map[string]*protocolState
	uncertified    map[string]struct{}
	subscriptions  map[Subscription]struct{}
	authorities    map[string]struct{}
	authorizations map[string]Authorization
	accesses       map[string]Access

	hooks *Hooks
	log   zerolog.Logger
}

func New() *Cache {
	c := &Cache{
		hooks: newHooks(),
		log:   observability.Component("cache"),
	}
	c.reset()
	return c
}

// Hooks returns the listener registries for cache events.
func (c *Cache) Hooks() *Hooks {
	return c.hooks
}

func (c *Cache) reset() {
	c.routes = make(map[string]map[string]struct{})
	c.identities = make(map[string]string)
	c.protocols = make(map[string]*protocolState)
	c.uncertified = make(map[string]struct{})
	c.subscriptions = make(map[Subscription]struct{})
	c.authorities = make(map[string]struct{})
	c.authorizations = make(map[string]Authorization)
	c.accesses = make(map[string]Access)
}

// batch collects notifications raised under the data lock.
type batch []func()

func (b *batch) add(fn func()) {
	*b = append(*b, fn)
}

func (c *Cache) mutate(fn func(b *batch) bool) bool {
	c.emit.Lock()
	defer c.emit.Unlock()

	var b batch
	c.mu.Lock()
	changed := fn(&b)
	c.mu.Unlock()

	for _, fire := range b {
		fire()
	}
	return changed
}

// Clear drops every entity without firing events.
func (c *Cache) Clear() {
	c.emit.Lock()
	defer c.emit.Unlock()
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
}

// Load replaces the cache contents with snap. Per-entity hooks do not fire;
// Reloaded fires once the rebuild is complete.
func (c *Cache) Load(snap Snapshot) {
	c.emit.Lock()
	defer c.emit.Unlock()

	var discard batch
	c.mu.Lock()
	c.reset()
	for _, r := range snap.Routes {
		c.addRoute(&discard, r)
	}
	for _, p := range snap.Protocols {
		for _, prov := range p.Providers {
			c.addProvider(&discard, p.Name, p.AccessDefaults, p.Methods, p.Channels, prov)
		}
	}
	for _, name := range snap.Uncertified {
		c.addUncertified(&discard, name)
	}
	for _, s := range snap.Subscriptions {
		c.addSubscription(&discard, s)
	}
	for _, nodeID := range snap.Authorities {
		c.addAuthority(&discard, nodeID)
	}
	for _, a := range snap.Authorizations {
		c.addAuthorization(&discard, a)
	}
	for _, a := range snap.Accesses {
		c.addAccess(&discard, a)
	}
	stats := c.statsLocked()
	c.mu.Unlock()

	c.log.Debug().Interface("stats", stats).Msg("cache reloaded from snapshot")
	c.hooks.Reloaded.Fire(stats)
}

// Routes

func (c *Cache) AddRoute(r Route) bool {
	return c.mutate(func(b *batch) bool { return c.addRoute(b, r) })
}

func (c *Cache) addRoute(b *batch, r Route) bool {
	if r.NodeID == "" {
		return false
	}
	if _, ok := c.routes[r.NodeID]; ok {
		return false
	}
	ids := make(map[string]struct{}, len(r.Identities))
	for _, identity := range r.Identities {
		if identity == "" {
			continue
		}
		ids[identity] = struct{}{}
		c.identities[identity] = r.NodeID
	}
	c.routes[r.NodeID] = ids
	ev := RouteEvent{Route: routeView(r.NodeID, ids)}
	b.add(func() { c.hooks.RouteAdded.Fire(ev) })
	return true
}

// RemoveRoute removes a route and everything the node held: its providers
// (and any protocol left without providers), its authority role, its
// subscriptions, its access entry and its identities.
func (c *Cache) RemoveRoute(nodeID string) bool {
	return c.mutate(func(b *batch) bool { return c.removeRoute(b, nodeID) })
}

func (c *Cache) removeRoute(b *batch, nodeID string) bool {
	ids, ok := c.routes[nodeID]
	if !ok {
		return false
	}
	for _, name := range sortedKeys(c.protocols) {
		c.removeProvider(b, name, nodeID)
	}
	c.removeAuthority(b, nodeID)
	for _, s := range c.subscriptionsLocked(func(s Subscription) bool { return s.NodeID == nodeID }) {
		c.removeSubscription(b, s)
	}
	c.removeAccess(b, nodeID)
	for identity := range ids {
		if c.identities[identity] == nodeID {
			delete(c.identities, identity)
		}
	}
	delete(c.routes, nodeID)
	ev := RouteEvent{Route: routeView(nodeID, ids)}
	b.add(func() { c.hooks.RouteRemoved.Fire(ev) })
	return true
}

func (c *Cache) AddIdentity(nodeID, identity string) bool {
	return c.mutate(func(b *batch) bool {
		ids, ok := c.routes[nodeID]
		if !ok || identity == "" {
			return false
		}
		if _, exists := ids[identity]; exists {
			return false
		}
		ids[identity] = struct{}{}
		c.identities[identity] = nodeID
		ev := IdentityEvent{NodeID: nodeID, Identity: identity}
		b.add(func() { c.hooks.IdentityAdded.Fire(ev) })
		return true
	})
}

func (c *Cache) RemoveIdentity(nodeID, identity string) bool {
	return c.mutate(func(b *batch) bool {
		ids, ok := c.routes[nodeID]
		if !ok {
			return false
		}
		if _, exists := ids[identity]; !exists {
			return false
		}
		delete(ids, identity)
		if c.identities[identity] == nodeID {
			delete(c.identities, identity)
		}
		ev := IdentityEvent{NodeID: nodeID, Identity: identity}
		b.add(func() { c.hooks.IdentityRemoved.Fire(ev) })
		return true
	})
}

// Protocols

func (c *Cache) AddUncertifiedProtocol(name string) bool {
	return c.mutate(func(b *batch) bool { return c.addUncertified(b, name) })
}

func (c *Cache) addUncertified(b *batch, name string) bool {
	if name == "" {
		return false
	}
	if _, ok := c.uncertified[name]; ok {
		return false
	}
	c.uncertified[name] = struct{}{}
	ev := ProtocolEvent{Protocol: name}
	b.add(func() { c.hooks.ProtocolAdded.Fire(ev) })
	return true
}

func (c *Cache) RemoveUncertifiedProtocol(name string) bool {
	return c.mutate(func(b *batch) bool {
		if _, ok := c.uncertified[name]; !ok {
			return false
		}
		delete(c.uncertified, name)
		ev := ProtocolEvent{Protocol: name}
		b.add(func() { c.hooks.ProtocolRemoved.Fire(ev) })
		return true
	})
}

// AddProvider registers p as a provider of protocol, creating the protocol
// with defaults, methods and channels when it does not exist yet. Re-adding
// an existing provider is a no-op.
func (c *Cache) AddProvider(protocol string, defaults AccessDefaults, methods []Method, channels []Channel, p Provider) bool {
	return c.mutate(func(b *batch) bool {
		return c.addProvider(b, protocol, defaults, methods, channels, p)
	})
}

func (c *Cache) addProvider(b *batch, protocol string, defaults AccessDefaults, methods []Method, channels []Channel, p Provider) bool {
	if protocol == "" || p.NodeID == "" {
		return false
	}
	state, ok := c.protocols[protocol]
	if !ok {
		state = &protocolState{
			defaults:  defaults,
			methods:   make(map[string]Method, len(methods)),
			channels:  make(map[string]Channel, len(channels)),
			providers: make(map[string]Provider),
		}
		for _, m := range methods {
			if m.Name != "" {
				state.methods[m.Name] = m
			}
		}
		for _, ch := range channels {
			if ch.Name != "" {
				state.channels[ch.Name] = ch
			}
		}
		c.protocols[protocol] = state
		ev := ProtocolEvent{Protocol: protocol, Certified: true}
		b.add(func() { c.hooks.ProtocolAdded.Fire(ev) })
	}
	if _, exists := state.providers[p.NodeID]; exists {
		return false
	}
	p.Data = cloneRaw(p.Data)
	state.providers[p.NodeID] = p
	ev := ProviderEvent{Protocol: protocol, Provider: Provider{NodeID: p.NodeID, Data: cloneRaw(p.Data), Rank: p.Rank}}
	b.add(func() { c.hooks.ProviderAdded.Fire(ev) })
	return true
}

// RemoveProvider removes nodeID from protocol's providers and removes the
// protocol once it has none left.
func (c *Cache) RemoveProvider(protocol, nodeID string) bool {
	return c.mutate(func(b *batch) bool { return c.removeProvider(b, protocol, nodeID) })
}

func (c *Cache) removeProvider(b *batch, protocol, nodeID string) bool {
	state, ok := c.protocols[protocol]
	if !ok {
		return false
	}
	p, exists := state.providers[nodeID]
	if !exists {
		return false
	}
	delete(state.providers, nodeID)
	ev := ProviderEvent{Protocol: protocol, Provider: p}
	b.add(func() { c.hooks.ProviderRemoved.Fire(ev) })
	if len(state.providers) == 0 {
		delete(c.protocols, protocol)
		pev := ProtocolEvent{Protocol: protocol, Certified: true}
		b.add(func() { c.hooks.ProtocolRemoved.Fire(pev) })
	}
	return true
}

func (c *Cache) UpdateProviderRank(protocol, nodeID string, rank int) bool {
	return c.mutate(func(b *batch) bool {
		p, ok := c.providerLocked(protocol, nodeID)
		if !ok || p.Rank == rank {
			return false
		}
		p.Rank = rank
		c.protocols[protocol].providers[nodeID] = p
		ev := ProviderEvent{Protocol: protocol, Provider: Provider{NodeID: nodeID, Data: cloneRaw(p.Data), Rank: rank}}
		b.add(func() { c.hooks.ProviderRankUpdated.Fire(ev) })
		return true
	})
}

func (c *Cache) UpdateProviderData(protocol, nodeID string, data json.RawMessage) bool {
	return c.mutate(func(b *batch) bool {
		p, ok := c.providerLocked(protocol, nodeID)
		if !ok {
			return false
		}
		p.Data = cloneRaw(data)
		c.protocols[protocol].providers[nodeID] = p
		ev := ProviderEvent{Protocol: protocol, Provider: Provider{NodeID: nodeID, Data: cloneRaw(data), Rank: p.Rank}}
		b.add(func() { c.hooks.ProviderDataUpdated.Fire(ev) })
		return true
	})
}

func (c *Cache) providerLocked(protocol, nodeID string) (Provider, bool) {
	state, ok := c.protocols[protocol]
	if !ok {
		return Provider{}, false
	}
	p, ok := state.providers[nodeID]
	return p, ok
}

// AddMethods adds methods to an existing protocol; it reports whether any
// method was new.
func (c *Cache) AddMethods(protocol string, methods ...Method) bool {
	return c.mutate(func(b *batch) bool {
		state, ok := c.protocols[protocol]
		if !ok {
			return false
		}
		changed := false
		for _, m := range methods {
			if m.Name == "" {
				continue
			}
			if _, exists := state.methods[m.Name]; exists {
				continue
			}
			state.methods[m.Name] = m
			changed = true
			ev := MethodEvent{Protocol: protocol, Method: m}
			b.add(func() { c.hooks.MethodAdded.Fire(ev) })
		}
		return changed
	})
}

func (c *Cache) RemoveMethods(protocol string, names ...string) bool {
	return c.mutate(func(b *batch) bool {
		state, ok := c.protocols[protocol]
		if !ok {
			return false
		}
		changed := false
		for _, name := range names {
			m, exists := state.methods[name]
			if !exists {
				continue
			}
			delete(state.methods, name)
			changed = true
			ev := MethodEvent{Protocol: protocol, Method: m}
			b.add(func() { c.hooks.MethodRemoved.Fire(ev) })
		}
		return changed
	})
}

func (c *Cache) AddChannels(protocol string, channels ...Channel) bool {
	return c.mutate(func(b *batch) bool {
		state, ok := c.protocols[protocol]
		if !ok {
			return false
		}
		changed := false
		for _, ch := range channels {
			if ch.Name == "" {
				continue
			}
			if _, exists := state.channels[ch.Name]; exists {
				continue
			}
			state.channels[ch.Name] = ch
			changed = true
			ev := ChannelEvent{Protocol: protocol, Channel: ch}
			b.add(func() { c.hooks.ChannelAdded.Fire(ev) })
		}
		return changed
	})
}

func (c *Cache) RemoveChannels(protocol string, names ...string) bool {
	return c.mutate(func(b *batch) bool {
		state, ok := c.protocols[protocol]
		if !ok {
			return false
		}
		changed := false
		for _, name := range names {
			ch, exists := state.channels[name]
			if !exists {
				continue
			}
			delete(state.channels, name)
			changed = true
			ev := ChannelEvent{Protocol: protocol, Channel: ch}
			b.add(func() { c.hooks.ChannelRemoved.Fire(ev) })
		}
		return changed
	})
}

// Subscriptions

func (c *Cache) AddSubscription(s Subscription) bool {
	return c.mutate(func(b *batch) bool { return c.addSubscription(b, s) })
}

func (c *Cache) addSubscription(b *batch, s Subscription) bool {
	if s.NodeID == "" || s.Protocol == "" || s.Channel == "" {
		return false
	}
	if _, ok := c.subscriptions[s]; ok {
		return false
	}
	c.subscriptions[s] = struct{}{}
	ev := SubscriptionEvent{Subscription: s}
	b.add(func() { c.hooks.SubscriptionAdded.Fire(ev) })
	return true
}

func (c *Cache) RemoveSubscription(s Subscription) bool {
	return c.mutate(func(b *batch) bool { return c.removeSubscription(b, s) })
}

func (c *Cache) removeSubscription(b *batch, s Subscription) bool {
	if _, ok := c.subscriptions[s]; !ok {
		return false
	}
	delete(c.subscriptions, s)
	ev := SubscriptionEvent{Subscription: s}
	b.add(func() { c.hooks.SubscriptionRemoved.Fire(ev) })
	return true
}

// Authorities

func (c *Cache) AddAuthority(nodeID string) bool {
	return c.mutate(func(b *batch) bool { return c.addAuthority(b, nodeID) })
}

func (c *Cache) addAuthority(b *batch, nodeID string) bool {
	if nodeID == "" {
		return false
	}
	if _, ok := c.authorities[nodeID]; ok {
		return false
	}
	c.authorities[nodeID] = struct{}{}
	ev := AuthorityEvent{NodeID: nodeID}
	b.add(func() { c.hooks.AuthorityAdded.Fire(ev) })
	return true
}

func (c *Cache) RemoveAuthority(nodeID string) bool {
	return c.mutate(func(b *batch) bool { return c.removeAuthority(b, nodeID) })
}

func (c *Cache) removeAuthority(b *batch, nodeID string) bool {
	if _, ok := c.authorities[nodeID]; !ok {
		return false
	}
	delete(c.authorities, nodeID)
	ev := AuthorityEvent{NodeID: nodeID}
	b.add(func() { c.hooks.AuthorityRemoved.Fire(ev) })
	return true
}

// Authorizations and accesses

func (c *Cache) AddAuthorization(a Authorization) bool {
	return c.mutate(func(b *batch) bool { return c.addAuthorization(b, a) })
}

func (c *Cache) addAuthorization(b *batch, a Authorization) bool {
	if a.Key == "" {
		return false
	}
	if _, ok := c.authorizations[a.Key]; ok {
		return false
	}
	a.Block = cloneRaw(a.Block)
	c.authorizations[a.Key] = a
	ev := AuthorizationEvent{Authorization: Authorization{Key: a.Key, Block: cloneRaw(a.Block)}}
	b.add(func() { c.hooks.AuthorizationAdded.Fire(ev) })
	return true
}

// PutAuthorization stores a, replacing any block already cached under the
// same key. Used for locally obtained (re)authentication results.
func (c *Cache) PutAuthorization(a Authorization) bool {
	return c.mutate(func(b *batch) bool {
		if a.Key == "" {
			return false
		}
		if prev, ok := c.authorizations[a.Key]; ok {
			if string(prev.Block) == string(a.Block) {
				return false
			}
			delete(c.authorizations, a.Key)
		}
		return c.addAuthorization(b, a)
	})
}

// RemoveAuthorization removes the authorization and every access entry that
// references its key.
func (c *Cache) RemoveAuthorization(key string) bool {
	return c.mutate(func(b *batch) bool {
		a, ok := c.authorizations[key]
		if !ok {
			return false
		}
		for _, nodeID := range sortedKeys(c.accesses) {
			if c.accesses[nodeID].Key == key {
				c.removeAccess(b, nodeID)
			}
		}
		delete(c.authorizations, key)
		ev := AuthorizationEvent{Authorization: a}
		b.add(func() { c.hooks.AuthorizationRemoved.Fire(ev) })
		return true
	})
}

func (c *Cache) AddAccess(a Access) bool {
	return c.mutate(func(b *batch) bool { return c.addAccess(b, a) })
}

func (c *Cache) addAccess(b *batch, a Access) bool {
	if a.NodeID == "" || a.Key == "" {
		return false
	}
	if _, ok := c.accesses[a.NodeID]; ok {
		return false
	}
	c.accesses[a.NodeID] = a
	ev := AccessEvent{Access: a}
	b.add(func() { c.hooks.AccessAdded.Fire(ev) })
	return true
}

func (c *Cache) RemoveAccess(nodeID string) bool {
	return c.mutate(func(b *batch) bool { return c.removeAccess(b, nodeID) })
}

func (c *Cache) removeAccess(b *batch, nodeID string) bool {
	a, ok := c.accesses[nodeID]
	if !ok {
		return false
	}
	delete(c.accesses, nodeID)
	ev := AccessEvent{Access: a}
	b.add(func() { c.hooks.AccessRemoved.Fire(ev) })
	return true
}

// Reads

func (c *Cache) HasRoute(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[nodeID]
	return ok
}

func (c *Cache) Route(nodeID string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.routes[nodeID]
	if !ok {
		return Route{}, false
	}
	return routeView(nodeID, ids), true
}

func (c *Cache) Routes() []Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Route, 0, len(c.routes))
	for _, nodeID := range sortedKeys(c.routes) {
		out = append(out, routeView(nodeID, c.routes[nodeID]))
	}
	return out
}

// RouteByIdentity resolves an identity to the node that answers to it.
func (c *Cache) RouteByIdentity(identity string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodeID, ok := c.identities[identity]
	return nodeID, ok
}

// HasProtocol reports whether protocol is known, certified or not.
func (c *Cache) HasProtocol(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.protocols[name]; ok {
		return true
	}
	_, ok := c.uncertified[name]
	return ok
}

func (c *Cache) IsCertified(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.protocols[name]
	return ok
}

func (c *Cache) Protocol(name string) (Protocol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.protocols[name]
	if !ok {
		return Protocol{}, false
	}
	return state.view(name), true
}

// Protocols returns the sorted names of certified protocols.
func (c *Cache) Protocols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.protocols)
}

func (c *Cache) UncertifiedProtocols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.uncertified)
}

// FindProtocols returns copies of every certified protocol matching pred,
// sorted by name.
func (c *Cache) FindProtocols(pred func(Protocol) bool) []Protocol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Protocol
	for _, name := range sortedKeys(c.protocols) {
		view := c.protocols[name].view(name)
		if pred == nil || pred(view) {
			out = append(out, view)
		}
	}
	return out
}

// RandomProvider picks a provider of protocol uniformly at random, skipping
// the excluded node ids.
func (c *Cache) RandomProvider(protocol string, exclude ...string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.protocols[protocol]
	if !ok {
		return Provider{}, false
	}
	candidates := make([]string, 0, len(state.providers))
	for _, nodeID := range sortedKeys(state.providers) {
		if !contains(exclude, nodeID) {
			candidates = append(candidates, nodeID)
		}
	}
	if len(candidates) == 0 {
		return Provider{}, false
	}
	p := state.providers[candidates[rand.Intn(len(candidates))]]
	p.Data = cloneRaw(p.Data)
	return p, true
}

func (c *Cache) Subscriptions(protocol, channel string) []Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptionsLocked(func(s Subscription) bool {
		return s.Protocol == protocol && (channel == "" || s.Channel == channel)
	})
}

func (c *Cache) HasSubscription(s Subscription) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[s]
	return ok
}

func (c *Cache) subscriptionsLocked(match func(Subscription) bool) []Subscription {
	var out []Subscription
	for s := range c.subscriptions {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.NodeID < b.NodeID
	})
	return out
}

func (c *Cache) IsAuthority(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.authorities[nodeID]
	return ok
}

// Authorities returns the sorted authority node ids.
func (c *Cache) Authorities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.authorities)
}

func (c *Cache) RandomAuthority(exclude ...string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := make([]string, 0, len(c.authorities))
	for _, nodeID := range sortedKeys(c.authorities) {
		if !contains(exclude, nodeID) {
			candidates = append(candidates, nodeID)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (c *Cache) Authorization(key string) (Authorization, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.authorizations[key]
	if !ok {
		return Authorization{}, false
	}
	a.Block = cloneRaw(a.Block)
	return a, true
}

func (c *Cache) Access(nodeID string) (Access, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accesses[nodeID]
	return a, ok
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	return Stats{
		Routes:         len(c.routes),
		Protocols:      len(c.protocols),
		Uncertified:    len(c.uncertified),
		Subscriptions:  len(c.subscriptions),
		Authorities:    len(c.authorities),
		Authorizations: len(c.authorizations),
		Accesses:       len(c.accesses),
	}
}

func routeView(nodeID string, ids map[string]struct{}) Route {
	r := Route{NodeID: nodeID}
	if len(ids) > 0 {
		r.Identities = make([]string, 0, len(ids))
		for id := range ids {
			r.Identities = append(r.Identities, id)
		}
		sort.Strings(r.Identities)
	}
	return r
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
