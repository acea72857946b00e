// Package session is the client engine for the JSON-RPC session protocol.
//
// Ownership boundary:
// - one persistent websocket transport and its lifecycle state machine
// - request framing, correlation and deadlines
// - the single-writer send pipeline
// - handshake, resumption and cache synchronization
// - the pulse sweep (timeouts, protocol rank republishing)
// - typed request builders and inbound handler registries
//
// Consumers never touch the transport. They issue requests through Session,
// register handlers for inbound broadcasts, unicasts and executes, and read
// directory state from the cache.
package session
