// Package store provides persistent storage for the chat core using SQLite.
//
// # Architecture
//
// The Store interface covers rooms, persisted membership, messages,
// reactions, read receipts, and unread counters. SQLiteStore implements it
// on a single database; MockStore implements it in memory for tests.
//
// The store is the single source of truth for message content. The
// connection registry and room directory are caches of liveness only and
// must never be treated as durable.
//
// # Data Models
//
//   - Room: named channel with persisted membership (distinct from live
//     connections)
//   - Message: chat content with monotonically increasing per-room IDs,
//     edit flag, pin flag, reply reference, reaction aggregates, readers
//   - Reaction: per-emoji aggregate (count plus reacting users)
//
// Deleting a message leaves a tombstone row: the ID stays claimed, content
// is cleared, and the message never reappears in history.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateRoom: Room already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
