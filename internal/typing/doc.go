// Package typing coordinates "user is typing" indicators.
//
// The wire protocol has no stop-typing intent. Clients signal while the
// user types; the coordinator expires each indicator one second after
// its last refresh and fans out a single stop event. This keeps a
// crashed or disconnected client from leaving a stuck indicator.
package typing
