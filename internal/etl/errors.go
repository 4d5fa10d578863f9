package etl

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures and anomalies raised by the export engine.
type ErrorKind string

const (
	// KindSchemaInconsistency: colliding paths or a field outside any declared section.
	// Fatal, reported before any record is processed.
	KindSchemaInconsistency ErrorKind = "schema_inconsistency"
	// KindNameSpaceExhausted: no free bounded-length table identifier. Fatal for the run.
	KindNameSpaceExhausted ErrorKind = "namespace_exhausted"
	// KindMalformedCompositeValue: a gps value that could not be split. Non-fatal.
	KindMalformedCompositeValue ErrorKind = "malformed_composite_value"
	// KindUnknownFieldDropped: a record field outside the layout. Non-fatal.
	KindUnknownFieldDropped ErrorKind = "unknown_field_dropped"
	// KindDriverWriteFailure: an export driver failed to persist a header or row.
	KindDriverWriteFailure ErrorKind = "driver_write_failure"
)

// Sentinels for errors.Is.
var (
	ErrSchemaInconsistency = &Error{Kind: KindSchemaInconsistency}
	ErrNameSpaceExhausted  = &Error{Kind: KindNameSpaceExhausted}
	ErrDriverWriteFailure  = &Error{Kind: KindDriverWriteFailure}
)

// Error is the error type returned by the engine.
type Error struct {
	Kind    ErrorKind
	Path    string // field path, section name or table the error refers to
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" [%s]", e.Path)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func schemaError(path, format string, args ...any) error {
	return &Error{Kind: KindSchemaInconsistency, Path: path, Message: fmt.Sprintf(format, args...)}
}

func driverError(table string, cause error) error {
	return &Error{Kind: KindDriverWriteFailure, Path: table, Cause: cause}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Anomaly is a non-fatal data problem found while processing a record.
type Anomaly struct {
	Kind ErrorKind
	Path string
}

// AnomalyFunc receives anomalies as they are found. It may be nil.
type AnomalyFunc func(Anomaly)

func (f AnomalyFunc) report(kind ErrorKind, path string) {
	if f != nil {
		f(Anomaly{Kind: kind, Path: path})
	}
}
