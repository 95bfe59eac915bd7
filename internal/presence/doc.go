// Package presence tracks user status.
//
// The tracker hangs off the connection registry's lifecycle hooks: the
// first admitted connection of a user makes them online, and only the
// dismissal of their last connection makes them offline. Away and busy
// are explicit client intents and survive until changed or until the
// user disconnects entirely. An optional Redis mirror exposes the same
// state to sibling services.
package presence
