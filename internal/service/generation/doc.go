// Package generation fills in subject and body content for schedule entries
// shortly before they are due, and starts new threads.
//
// Content comes from a Generator collaborator (see internal/contentgen).
// Follow-up subjects are never generated: they are derived from the
// previous step's subject so the transport keeps the conversation threaded.
package generation
