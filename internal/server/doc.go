// Package server is the orchestrator for the hallway chat service.
//
// New builds the full component graph from configuration: SQLite store,
// connection registry, room directory, presence tracker, typing
// coordinator, notification dispatcher, and message pipeline. Run serves
// HTTP until the context is canceled, then shuts everything down in
// dependency order with a five second grace window.
//
// Each websocket connection gets a session object that dispatches its
// intents. Handlers receive the session's connection implicitly, so no
// intent carries a connection identifier on the wire.
package server
