package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrValidation is returned when a required input is missing or malformed.
// Nothing is hashed, grouped or persisted when it is returned.
var ErrValidation = errors.New("validation error")

// ErrMissingTraceData is returned when a simpleperf upload carries no trace bytes.
var ErrMissingTraceData = errors.New("missing trace data")

// ErrNotFound represents an unknown session, ANR, group or device.
var ErrNotFound = errors.New("not found")
