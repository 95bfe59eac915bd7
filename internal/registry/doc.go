// Package registry tracks every live client connection and who owns it.
//
// A Conn is one transport session: a websocket, a bounded outbound queue,
// and the set of rooms the connection has joined. The Registry indexes
// connections by ID and by user, supports multiple simultaneous
// connections per user, and guarantees that by the time Dismiss returns
// the connection is out of every room's live set and presence has been
// re-evaluated.
//
// The registry is a cache of liveness, never of content; the store remains
// the single source of truth for messages and membership.
package registry
