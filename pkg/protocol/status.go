// Package protocol defines the stable wire contract between the
// orchestration core and its orchestrating shells: the query response,
// the audit records, the status codes, and the error taxonomy.
package protocol

// StatusCode is the coarse result status surfaced to shells. Shells map
// these onto HTTP statuses or CLI exit codes.
type StatusCode string

const (
	StatusOK               StatusCode = "OK"
	StatusBadRequest       StatusCode = "BAD_REQUEST"
	StatusCancelled        StatusCode = "CANCELLED"
	StatusDeadlineExceeded StatusCode = "DEADLINE_EXCEEDED"
	StatusUnavailable      StatusCode = "UNAVAILABLE"
	StatusInternal         StatusCode = "INTERNAL"
)
