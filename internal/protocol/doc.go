// Package protocol defines the wire contract between chat clients and the
// server: a closed set of client intents and a closed set of server events,
// each wrapped in a {type, payload} JSON envelope.
//
// Both directions are tagged variants rather than string-keyed handler
// registration, so dispatch is an exhaustive type switch and a new intent
// or event cannot be added without the compiler pointing at every switch
// that must handle it.
package protocol
