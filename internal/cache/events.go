package cache

import "github.com/danmuck/bladectl/internal/notify"

type RouteEvent struct {
	Route Route
}

type IdentityEvent struct {
	NodeID   string
	Identity string
}

// ProtocolEvent reports a protocol appearing or disappearing. Certified
// protocols come and go with their providers; uncertified ones are announced
// by name only.
type ProtocolEvent struct {
	Protocol  string
	Certified bool
}

type ProviderEvent struct {
	Protocol string
	Provider Provider
}

type MethodEvent struct {
	Protocol string
	Method   Method
}

type ChannelEvent struct {
	Protocol string
	Channel  Channel
}

type SubscriptionEvent struct {
	Subscription Subscription
}

type AuthorityEvent struct {
	NodeID string
}

type AuthorizationEvent struct {
	Authorization Authorization
}

type AccessEvent struct {
	Access Access
}

// Hooks holds one listener registry per cache event.
type Hooks struct {
	RouteAdded   *notify.Hook[RouteEvent]
	RouteRemoved *notify.Hook[RouteEvent]

	IdentityAdded   *notify.Hook[IdentityEvent]
	IdentityRemoved *notify.Hook[IdentityEvent]

	ProtocolAdded   *notify.Hook[ProtocolEvent]
	ProtocolRemoved *notify.Hook[ProtocolEvent]

	ProviderAdded       *notify.Hook[ProviderEvent]
	ProviderRemoved     *notify.Hook[ProviderEvent]
	ProviderRankUpdated *notify.Hook[ProviderEvent]
	ProviderDataUpdated *notify.Hook[ProviderEvent]

	MethodAdded   *notify.Hook[MethodEvent]
	MethodRemoved *notify.Hook[MethodEvent]

	ChannelAdded   *notify.Hook[ChannelEvent]
	ChannelRemoved *notify.Hook[ChannelEvent]

	SubscriptionAdded   *notify.Hook[SubscriptionEvent]
	SubscriptionRemoved *notify.Hook[SubscriptionEvent]

	AuthorityAdded   *notify.Hook[AuthorityEvent]
	AuthorityRemoved *notify.Hook[AuthorityEvent]

	AuthorizationAdded   *notify.Hook[AuthorizationEvent]
	AuthorizationRemoved *notify.Hook[AuthorizationEvent]

	AccessAdded   *notify.Hook[AccessEvent]
	AccessRemoved *notify.Hook[AccessEvent]

	// Reloaded fires once after a snapshot replaced the cache contents.
	Reloaded *notify.Hook[Stats]
}

func newHooks() *Hooks {
	return &Hooks{
		RouteAdded:           notify.NewHook[RouteEvent]("cache.route.added"),
		RouteRemoved:         notify.NewHook[RouteEvent]("cache.route.removed"),
		IdentityAdded:        notify.NewHook[IdentityEvent]("cache.identity.added"),
		IdentityRemoved:      notify.NewHook[IdentityEvent]("cache.identity.removed"),
		ProtocolAdded:        notify.NewHook[ProtocolEvent]("cache.protocol.added"),
		ProtocolRemoved:      notify.NewHook[ProtocolEvent]("cache.protocol.removed"),
		ProviderAdded:        notify.NewHook[ProviderEvent]("cache.provider.added"),
		ProviderRemoved:      notify.NewHook[ProviderEvent]("cache.provider.removed"),
		ProviderRankUpdated:  notify.NewHook[ProviderEvent]("cache.provider.rank"),
		ProviderDataUpdated:  notify.NewHook[ProviderEvent]("cache.provider.data"),
		MethodAdded:          notify.NewHook[MethodEvent]("cache.method.added"),
		MethodRemoved:        notify.NewHook[MethodEvent]("cache.method.removed"),
		ChannelAdded:         notify.NewHook[ChannelEvent]("cache.channel.added"),
		ChannelRemoved:       notify.NewHook[ChannelEvent]("cache.channel.removed"),
		SubscriptionAdded:    notify.NewHook[SubscriptionEvent]("cache.subscription.added"),
		SubscriptionRemoved:  notify.NewHook[SubscriptionEvent]("cache.subscription.removed"),
		AuthorityAdded:       notify.NewHook[AuthorityEvent]("cache.authority.added"),
		AuthorityRemoved:     notify.NewHook[AuthorityEvent]("cache.authority.removed"),
		AuthorizationAdded:   notify.NewHook[AuthorizationEvent]("cache.authorization.added"),
		AuthorizationRemoved: notify.NewHook[AuthorizationEvent]("cache.authorization.removed"),
		AccessAdded:          notify.NewHook[AccessEvent]("cache.access.added"),
		AccessRemoved:        notify.NewHook[AccessEvent]("cache.access.removed"),
		Reloaded:             notify.NewHook[Stats]("cache.reloaded"),
	}
}
