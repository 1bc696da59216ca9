// Package schedule implements the per-thread schedule of outbound email
// steps: idempotent creation, full-chain population, and rescheduling with
// cascading recomputation of later steps.
//
// The service layer holds no locks. Correctness under concurrent workers
// relies on the (thread, step kind, template) uniqueness of entries and on
// conditional updates in the repository that reject writes to sent entries.
// Repository implementations live in repository/postgres/.
package schedule
