// Package logger is a standardized event logging framework for the shell.
//
// Events are stored as newline delimited JSON objects, each one a
// google.protobuf.Struct holding the timestamp, session, event type and the
// event's own fields.
package logger
