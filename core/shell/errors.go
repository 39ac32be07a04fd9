package shell

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

var (
	// ErrLeadingOperator is returned for chains such as "&& ls".
	ErrLeadingOperator = errors.New("chain starts with an operator")
	// ErrTrailingOperator is returned for chains such as "ls |".
	ErrTrailingOperator = errors.New("chain ends with an operator")
	// ErrAdjacentOperators is returned for chains such as "ls && || pwd".
	ErrAdjacentOperators = errors.New("operator follows an operator")

	// ErrNotFound is the error resulting if a path search failed to find an executable file.
	ErrNotFound = exec.ErrNotFound

	ErrNoSuchDirectory  = errors.New("no such file or directory")
	ErrNotDirectory     = errors.New("not a directory")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotBuiltin is returned when a builtin is requested for a command the
	// shell doesn't implement.
	ErrNotBuiltin = errors.New("not a shell builtin")
)

// ParseError describes a malformed chain.
type ParseError struct {
	// Pos is the index of the offending token within the segment.
	Pos   int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error near %q: %v", e.Token, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// BuiltinError is reported when a builtin fails.
type BuiltinError struct {
	Name string
	Err  error
}

func (e *BuiltinError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *BuiltinError) Unwrap() error {
	return e.Err
}

// UsageError is returned when a builtin is invoked with bad arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// SpawnError is reported when an external command can't be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) notFound() bool {
	return errors.Is(e.Err, ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

func (e *SpawnError) Error() string {
	if e.notFound() {
		return fmt.Sprintf("%s: command not found", e.Binary)
	}
	return fmt.Sprintf("%s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitStatus is the status an element reports when it could not be spawned.
func (e *SpawnError) ExitStatus() int {
	if e.notFound() {
		return StatusNotFound
	}
	return StatusNotExecutable
}
