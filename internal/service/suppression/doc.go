// Package suppression keeps the recipient suppression list.
//
// An address lands on the list when one of its threads bounces, or when an
// operator adds it. The send executor checks the list before every send, so
// a suppressed recipient is never mailed again by any thread.
//
// The service depends only on the Repository interface in repository.go.
package suppression
