// Package engine implements the quota-aware resilient batch operation
// engine: the command state machine, the batch processor, and the retrying
// caller that together drive consolidate, distribute, and dedupe operations
// against the remote collection service.
//
// The engine is deliberately single-threaded per operation: one batch is
// fully processed (cache check, quota reserve, remote call, cache
// invalidate, checkpoint save) before the next begins, so the quota ledger's
// reserve/commit pair is atomic with respect to the batch it guards. The
// optional parallel distribute mode runs one worker per destination cursor;
// those workers still share a single serialized ledger.
//
// Progress is durable: every successful batch is checkpointed before it is
// acknowledged, and every mutation's inverse is appended to the undo ledger,
// so a crash at any point leaves a resumable, reversible operation.
package engine
