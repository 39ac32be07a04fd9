package shell

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/pborman/getopt/v2"
)

// BuiltinKind identifies a command implemented by the shell itself.
type BuiltinKind int

const (
	// NotBuiltin means the command must be run as an external program.
	NotBuiltin BuiltinKind = iota
	BuiltinCd
	BuiltinExit
	BuiltinHistory
)

var builtinsByName = map[string]BuiltinKind{
	"cd":      BuiltinCd,
	"exit":    BuiltinExit,
	"history": BuiltinHistory,
}

// Resolve looks up the builtin with the given name.
func Resolve(name string) BuiltinKind {
	return builtinsByName[name]
}

func (k BuiltinKind) String() string {
	for name, kind := range builtinsByName {
		if kind == k {
			return name
		}
	}
	return "external"
}

// BuiltinNames lists the names of all builtins in sorted order.
func BuiltinNames() []string {
	var out []string
	for name := range builtinsByName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const (
	cdUsage      = "cd DIR"
	historyUsage = "history [-n] [N]"
)

// runBuiltin executes a builtin against state, capturing its output.
func runBuiltin(kind BuiltinKind, cmd *Command, state *State) Outcome {
	switch kind {
	case BuiltinCd:
		return builtinCd(state, cmd.Args)
	case BuiltinExit:
		return builtinExit(state, cmd.Args)
	case BuiltinHistory:
		return builtinHistory(state, cmd.Args)
	case NotBuiltin:
	}
	return builtinFailure(cmd.Binary, StatusFailure, ErrNotBuiltin)
}

// builtinCd changes the working directory, it takes exactly one argument.
func builtinCd(state *State, args []string) Outcome {
	if len(args) != 1 {
		return builtinFailure("cd", StatusUsage, &UsageError{Usage: cdUsage})
	}

	if err := state.Chdir(args[0]); err != nil {
		return builtinFailure("cd", StatusFailure, err)
	}
	return Outcome{}
}

// builtinExit requests the session to end. The status defaults to 0 when it's
// missing or isn't a number.
func builtinExit(state *State, args []string) Outcome {
	code := 0
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil {
			code = parsed
		}
	}

	state.RequestExit(code)
	return Outcome{ExitStatus: code}
}

// builtinHistory prints the history log.
func builtinHistory(state *State, args []string) Outcome {
	opts := getopt.New()
	number := opts.Bool('n', "number each record")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(append([]string{"history"}, args...), nil); err != nil || *helpOpt {
		var help bytes.Buffer
		fmt.Fprintln(&help, "usage:", historyUsage)
		fmt.Fprintln(&help, "Display the history list, optionally only the last N records.")
		fmt.Fprintln(&help)
		fmt.Fprintln(&help, "Options:")
		opts.PrintOptions(&help)

		if err != nil {
			out := builtinFailure("history", StatusUsage, err)
			out.Stderr = help.Bytes()
			return out
		}
		return Outcome{Stdout: help.Bytes()}
	}

	limit := -1
	switch positional := opts.Args(); len(positional) {
	case 0:
	case 1:
		n, err := strconv.Atoi(positional[0])
		if err != nil || n < 0 {
			return builtinFailure("history", StatusUsage, &UsageError{Usage: historyUsage})
		}
		limit = n
	default:
		return builtinFailure("history", StatusUsage, &UsageError{Usage: historyUsage})
	}

	if limit < 0 && !*number {
		contents, err := state.History().ReadAll()
		if err != nil {
			return builtinFailure("history", StatusFailure, err)
		}
		return Outcome{Stdout: contents}
	}

	records, err := state.History().Records()
	if err != nil {
		return builtinFailure("history", StatusFailure, err)
	}

	start := 0
	if limit >= 0 && limit < len(records) {
		start = len(records) - limit
	}

	var out bytes.Buffer
	for i := start; i < len(records); i++ {
		if *number {
			fmt.Fprintf(&out, "% 5d  %s\n", i+1, records[i])
		} else {
			fmt.Fprintln(&out, records[i])
		}
	}
	return Outcome{Stdout: out.Bytes()}
}

func builtinFailure(name string, status int, err error) Outcome {
	return Outcome{
		ExitStatus: status,
		Err:        &BuiltinError{Name: name, Err: err},
	}
}
