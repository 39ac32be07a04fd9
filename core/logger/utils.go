package logger

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Keys present on every log entry.
const (
	KeyTimestampMicros = "timestamp_micros"
	KeySessionID       = "session_id"
	KeyType            = "type"
	KeyEvent           = "event"
)

// Event types emitted by the shell.
const (
	EventSessionStart   = "session_start"
	EventInputLine      = "input_line"
	EventRunCommand     = "run_command"
	EventParseError     = "parse_error"
	EventUnknownCommand = "unknown_command"
	EventBuiltinError   = "builtin_error"
	EventExit           = "exit"
)

// LogRecorder is a callback that stores events in an external datastore.
type LogRecorder func(le *structpb.Struct) error

// Logger captures the shell's interaction events.
type Logger struct {
	Record LogRecorder
}

// NewJsonLinesLogRecorder creates a Logger that exports logs in newline
// delimited JSON object format. It's safe for concurrent use.
func NewJsonLinesLogRecorder(w io.Writer) *Logger {
	var mu sync.Mutex
	return &Logger{
		Record: func(le *structpb.Struct) error {
			entry, err := protojson.Marshal(le)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			_, err = fmt.Fprintln(w, string(entry))
			return err
		},
	}
}

// NewEntry builds a log entry. Fields may hold anything structpb.NewValue
// accepts plus []string.
func NewEntry(sessionID, eventType string, fields map[string]interface{}) (*structpb.Struct, error) {
	event, err := structpb.NewStruct(normalize(fields))
	if err != nil {
		return nil, fmt.Errorf("building %s event: %w", eventType, err)
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			KeyTimestampMicros: structpb.NewNumberValue(float64(time.Now().UnixMicro())),
			KeySessionID:       structpb.NewStringValue(sessionID),
			KeyType:            structpb.NewStringValue(eventType),
			KeyEvent:           structpb.NewStructValue(event),
		},
	}, nil
}

func normalize(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if list, ok := v.([]string); ok {
			converted := make([]interface{}, len(list))
			for i, s := range list {
				converted[i] = s
			}
			v = converted
		}
		out[k] = v
	}
	return out
}

// NewSession creates a logger with attached session ID.
func (l *Logger) NewSession() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: uuid.NewString()}
}

// SessionLogger logs messages with a shared session ID. A nil SessionLogger
// discards everything.
type SessionLogger struct {
	*Logger
	sessionID string
}

// SessionID returns the ID attached to every event.
func (l *SessionLogger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Record logs an event of the given type.
func (l *SessionLogger) Record(eventType string, fields map[string]interface{}) error {
	if l == nil || l.Logger == nil || l.Logger.Record == nil {
		return nil
	}

	le, err := NewEntry(l.sessionID, eventType, fields)
	if err != nil {
		return err
	}
	return l.Logger.Record(le)
}
