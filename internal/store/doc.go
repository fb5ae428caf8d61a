// Package store provides durable, crash-safe persistence for operation
// progress: the checkpoint per operation signature that makes interrupted
// runs resumable, and the undo ledger that makes completed runs reversible.
//
// Backed by a single SQLite database in WAL mode. Writes are durable before
// the engine acknowledges the corresponding batch (write-before-acknowledge
// ordering).
package store
