// Package sequence resolves which message template applies at each step of
// a prospect's email thread.
//
// Selection is deterministic so that re-running a chain (cron re-trigger,
// webhook retry, manual re-queue) resolves the same templates and therefore
// the same schedule-entry idempotency keys.
package sequence
