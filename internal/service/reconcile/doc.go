// Package reconcile applies asynchronous delivery events (sent, opened,
// replied, bounced) from the email transport to thread state.
//
// Every payload is persisted as a processing record before any side effect.
// Records move PENDING -> PROCESSING -> SUCCEEDED|FAILED, which makes a crash
// mid-handler visible to the stale sweep and lets FAILED records be replayed.
// Thread transitions are compare-and-set against an allowed set of current
// states, so duplicate and out-of-order deliveries are harmless.
package reconcile
