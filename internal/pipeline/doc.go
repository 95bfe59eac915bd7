// Package pipeline validates, persists, and fans out message traffic.
//
// Every mutation runs under the owning room's serialization point, which
// is what gives all recipients an identical per-room event order. A
// persistence failure aborts the operation before any fan-out happens,
// so connected clients and the store never disagree about which messages
// exist.
package pipeline
