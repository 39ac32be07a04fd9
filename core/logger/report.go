package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *structpb.Struct)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var rawEntry json.RawMessage
		if err := decoder.Decode(&rawEntry); err != nil {
			return err
		}

		var logEntry structpb.Struct
		if err := protojson.Unmarshal(rawEntry, &logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

// EntryType returns the event type of a log entry.
func EntryType(le *structpb.Struct) string {
	return le.GetFields()[KeyType].GetStringValue()
}

// EntrySessionID returns the session a log entry belongs to.
func EntrySessionID(le *structpb.Struct) string {
	return le.GetFields()[KeySessionID].GetStringValue()
}

// EntryEvent returns the event specific fields of a log entry.
func EntryEvent(le *structpb.Struct) map[string]*structpb.Value {
	return le.GetFields()[KeyEvent].GetStructValue().GetFields()
}

func eventString(le *structpb.Struct, key string) string {
	return EntryEvent(le)[key].GetStringValue()
}

func eventNumber(le *structpb.Struct, key string) string {
	v, ok := EntryEvent(le)[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d", int(v.GetNumberValue()))
}

func NewBugReport() *BugReport {
	return &BugReport{
		ParseErrors:     NewPathCounter("segment", "error"),
		UnknownCommands: NewPathCounter("command", "error"),
		BuiltinErrors:   NewPathCounter("command", "error"),
	}
}

// BugReport pulls events that show commands failing to run.
type BugReport struct {
	LogEntries int `json:"log_entries"`

	ParseErrors     *PathCounter `json:"parse_errors"`
	UnknownCommands *PathCounter `json:"unknown_commands"`
	BuiltinErrors   *PathCounter `json:"builtin_errors"`
}

func (r *BugReport) Update(le *structpb.Struct) {
	r.LogEntries++

	switch EntryType(le) {
	case EventParseError:
		r.ParseErrors.Increment(eventString(le, "segment"), eventString(le, "error"))
	case EventUnknownCommand:
		r.UnknownCommands.Increment(eventString(le, "binary"), eventString(le, "error"))
	case EventBuiltinError:
		r.BuiltinErrors.Increment(eventString(le, "binary"), eventString(le, "error"))
	}
}

type InteractionReport struct {
	// Map of sessionID -> interactions
	interactions map[string]*InteractiveSession
}

type InteractiveSession struct {
	Login struct {
		Username   string `json:"username,omitempty"`
		RemoteAddr string `json:"remote_addr,omitempty"`
	} `json:"login"`
	LogEntries int `json:"log_entries"`

	Lines    []string `json:"lines"`
	Commands []string `json:"commands"`
	ExitCode *int     `json:"exit_code,omitempty"`
}

func (i *InteractiveSession) Update(le *structpb.Struct) {
	i.LogEntries++

	switch EntryType(le) {
	case EventSessionStart:
		i.Login.Username = eventString(le, "user")
		i.Login.RemoteAddr = eventString(le, "remote_addr")
	case EventInputLine:
		i.Lines = append(i.Lines, eventString(le, "line"))
	case EventRunCommand, EventUnknownCommand, EventBuiltinError:
		argv := []string{eventString(le, "binary")}
		for _, arg := range EntryEvent(le)["args"].GetListValue().GetValues() {
			argv = append(argv, arg.GetStringValue())
		}
		i.Commands = append(i.Commands, strings.Join(argv, " "))
	case EventExit:
		code := int(EntryEvent(le)["code"].GetNumberValue())
		i.ExitCode = &code
	}
}

func (i *InteractionReport) init() {
	if i.interactions == nil {
		i.interactions = make(map[string]*InteractiveSession)
	}
}

// MarshalJSON implements a custom JSON marshaler.
func (i *InteractionReport) MarshalJSON() ([]byte, error) {
	i.init()

	return json.Marshal(i.interactions)
}

func (i *InteractionReport) Update(le *structpb.Struct) {
	i.init()

	sessionID := EntrySessionID(le)
	if sessionID == "" {
		return
	}
	report, ok := i.interactions[sessionID]
	if !ok {
		report = &InteractiveSession{}
		i.interactions[sessionID] = report
	}

	report.Update(le)
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Sessions       SessionReport        `json:"session_report"`
	RunCommand     RunCommandReport     `json:"run_command_report"`
	UnknownCommand UnknownCommandReport `json:"unknown_command_report"`
	ParseError     ParseErrorReport     `json:"parse_error_report"`
	BuiltinError   BuiltinErrorReport   `json:"builtin_error_report"`
	Exit           ExitReport           `json:"exit_report"`
}

func (r *Report) Update(le *structpb.Struct) {
	r.LogEntries++

	switch eventType := EntryType(le); eventType {
	case EventSessionStart:
		r.Sessions.update(le)
	case EventRunCommand:
		r.RunCommand.update(le)
	case EventUnknownCommand:
		r.UnknownCommand.update(le)
	case EventParseError:
		r.ParseError.update(le)
	case EventBuiltinError:
		r.BuiltinError.update(le)
	case EventExit:
		r.Exit.update(le)
	case EventInputLine:
		// Ignore
	default:
		r.InvalidEntries.Increment(eventType)
	}
}

type SessionReport struct {
	Count     int        `json:"count"`
	Usernames StrCounter `json:"usernames"`
}

func (r *SessionReport) update(le *structpb.Struct) {
	r.Count++
	r.Usernames.Increment(eventString(le, "user"))
}

type RunCommandReport struct {
	// Name of the command
	CommandNames StrCounter `json:"command_names"`
	// Exit statuses and their counts.
	ExitStatuses StrCounter `json:"exit_statuses"`
}

func (r *RunCommandReport) update(le *structpb.Struct) {
	r.CommandNames.Increment(eventString(le, "binary"))
	r.ExitStatuses.Increment(eventNumber(le, "exit_status"))
}

type UnknownCommandReport struct {
	CommandNames StrCounter `json:"command_names"`
}

func (r *UnknownCommandReport) update(le *structpb.Struct) {
	r.CommandNames.Increment(eventString(le, "binary"))
}

type ParseErrorReport struct {
	Errors StrCounter `json:"errors"`
}

func (r *ParseErrorReport) update(le *structpb.Struct) {
	r.Errors.Increment(eventString(le, "error"))
}

type BuiltinErrorReport struct {
	CommandNames StrCounter `json:"command_names"`
}

func (r *BuiltinErrorReport) update(le *structpb.Struct) {
	r.CommandNames.Increment(eventString(le, "binary"))
}

type ExitReport struct {
	Reasons StrCounter `json:"reasons"`
	Codes   StrCounter `json:"codes"`
}

func (r *ExitReport) update(le *structpb.Struct) {
	r.Reasons.Increment(eventString(le, "reason"))
	r.Codes.Increment(eventNumber(le, "code"))
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// MarshalJSON implements a custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts the number of times each combination of column values
// is seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// Get returns the count for the given column values.
func (ctr *PathCounter) Get(vals ...string) int {
	return ctr.internal[toKey(vals...)]
}

// MarshalJSON implements a custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	var out []Count
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
