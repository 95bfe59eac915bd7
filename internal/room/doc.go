// Package room maps room identifiers to their live member connections and
// per-room ephemeral state (pinned message cache).
//
// Fan-out targets live connections of room members, never persisted
// membership: an offline member receives nothing in real time and catches
// up through history replay on the next join, plus the unread-counter
// path. Each room owns a serialization point, so ordering holds per room
// and contention never crosses room boundaries.
package room
