package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/josephlewis42/chainsh/core/logger"
)

// ProgramName prefixes every message the shell writes to stderr.
const ProgramName = "chainsh"

// Exit statuses produced by the shell itself.
const (
	StatusSuccess       = 0
	StatusFailure       = 1
	StatusUsage         = 2
	StatusNotExecutable = 126
	StatusNotFound      = 127
)

// waitDelay bounds how long Wait keeps copying to and from a child whose
// streams aren't files once the child has exited.
const waitDelay = 250 * time.Millisecond

// Outcome is the result of running a command or pipeline.
type Outcome struct {
	ExitStatus int

	// Stdout and Stderr hold captured output. External commands stream to
	// the executor's writers instead and leave these empty.
	Stdout []byte
	Stderr []byte

	// Err is set when the command failed before or instead of running.
	Err error
}

// Success reports whether the outcome counts as success for && and ||.
func (o Outcome) Success() bool {
	return o.ExitStatus == StatusSuccess
}

// EventRecorder receives structured execution events.
type EventRecorder interface {
	Record(eventType string, fields map[string]interface{}) error
}

type nopRecorder struct{}

func (nopRecorder) Record(string, map[string]interface{}) error { return nil }

// Executor runs parsed chains.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Env is the environment passed to external commands, os.Environ() is
	// used when it's nil.
	Env []string

	Events EventRecorder
	Log    *log.Logger
}

// Run walks the chain left to right. A pipeline runs as one unit, && and ||
// abandon the rest of the chain when the most recent outcome doesn't allow
// continuing. Execution stops as soon as exit is requested.
func (e *Executor) Run(ctx context.Context, chain *Chain, state *State) Outcome {
	var last *Outcome
	elements := chain.Elements

	for i := 0; i < len(elements); {
		if _, exited := state.ExitRequested(); exited {
			break
		}

		switch element := elements[i]; element.Kind {
		case ElementCommand:
			pipeline := []*Command{element.Command}
			i++
			for i+1 < len(elements) && elements[i].Kind == ElementPipe {
				pipeline = append(pipeline, elements[i+1].Command)
				i += 2
			}
			outcome := e.runPipeline(ctx, pipeline, state)
			last = &outcome

		case ElementAnd:
			if last == nil || !last.Success() {
				return lastOrFailure(last)
			}
			i++

		case ElementOr:
			if last == nil || last.Success() {
				return lastOrFailure(last)
			}
			i++

		case ElementPipe:
			// Pipes are consumed together with the commands they join, a
			// well-formed chain never reaches here.
			return Outcome{ExitStatus: StatusUsage, Err: &ParseError{Pos: i, Token: OpPipe, Err: ErrLeadingOperator}}
		}
	}

	return lastOrFailure(last)
}

func lastOrFailure(last *Outcome) Outcome {
	if last == nil {
		return Outcome{ExitStatus: StatusFailure}
	}
	return *last
}

// stage is one command of a pipeline.
type stage struct {
	cmd     *Command
	kind    BuiltinKind
	started time.Time

	proc *exec.Cmd
	// done receives the outcome of builtins running on their own goroutine.
	done chan Outcome
	// outcome is final for stages that ran synchronously or failed to start.
	outcome *Outcome
}

// runPipeline starts every command before waiting on any of them, connecting
// each stdout to the following stdin with an OS pipe. The pipeline's outcome
// is that of its last command.
func (e *Executor) runPipeline(ctx context.Context, cmds []*Command, state *State) Outcome {
	if len(cmds) == 1 {
		st := e.startStage(ctx, cmds[0], state, e.Stdin, e.stdout(), nil, true)
		return e.waitStage(st)
	}

	stages := make([]*stage, 0, len(cmds))
	var stdin io.Reader = e.Stdin

	for i, cmd := range cmds {
		var (
			stdout     = e.stdout()
			pipeWriter *os.File
			nextStdin  *os.File
		)
		if i < len(cmds)-1 {
			r, w, err := os.Pipe()
			if err != nil {
				e.report(fmt.Errorf("pipe: %w", err))
				closeIfPipe(stdin, i)
				for _, st := range stages {
					e.waitStage(st)
				}
				return Outcome{ExitStatus: StatusFailure, Err: err}
			}
			stdout, pipeWriter, nextStdin = w, w, r
		}

		st := e.startStage(ctx, cmd, state.Fork(), stdin, stdout, pipeWriter, false)
		stages = append(stages, st)

		// The child holds its own copies of the pipe ends now. A builtin
		// running on a goroutine closes its writer when it's done.
		if pipeWriter != nil && st.done == nil {
			pipeWriter.Close()
		}
		closeIfPipe(stdin, i)
		stdin = nextStdin
	}

	var outcome Outcome
	for _, st := range stages {
		outcome = e.waitStage(st)
	}
	return outcome
}

func closeIfPipe(r io.Reader, index int) {
	if index == 0 {
		return
	}
	if f, ok := r.(*os.File); ok {
		f.Close()
	}
}

// startStage launches cmd. Builtins run synchronously when inline is set and
// on a goroutine otherwise, closing ownedWriter once their output is written.
func (e *Executor) startStage(ctx context.Context, cmd *Command, state *State, stdin io.Reader, stdout io.Writer, ownedWriter *os.File, inline bool) *stage {
	st := &stage{
		cmd:     cmd,
		kind:    Resolve(cmd.Binary),
		started: time.Now(),
	}

	if st.kind != NotBuiltin {
		if inline {
			outcome := runBuiltin(st.kind, cmd, state)
			e.relay(stdout, outcome)
			st.outcome = &outcome
			return st
		}

		st.done = make(chan Outcome, 1)
		go func() {
			outcome := runBuiltin(st.kind, cmd, state)
			e.relay(stdout, outcome)
			if ownedWriter != nil {
				ownedWriter.Close()
			}
			st.done <- outcome
		}()
		return st
	}

	proc := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	proc.Dir = state.Getwd()
	proc.Env = append(e.environ(), "PWD="+state.Getwd())
	proc.Stdin = stdin
	proc.Stdout = stdout
	proc.Stderr = e.stderr()
	proc.WaitDelay = waitDelay

	if err := proc.Start(); err != nil {
		spawnErr := &SpawnError{Binary: cmd.Binary, Err: err}
		e.report(spawnErr)
		st.outcome = &Outcome{ExitStatus: spawnErr.ExitStatus(), Err: spawnErr}
		return st
	}

	st.proc = proc
	return st
}

// waitStage blocks until the stage finishes and records it.
func (e *Executor) waitStage(st *stage) Outcome {
	var outcome Outcome
	switch {
	case st.outcome != nil:
		outcome = *st.outcome
	case st.done != nil:
		outcome = <-st.done
	default:
		outcome = e.waitProcess(st.proc)
	}

	e.recordCommand(st, outcome)
	return outcome
}

func (e *Executor) waitProcess(proc *exec.Cmd) Outcome {
	err := proc.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Outcome{}

	case errors.As(err, &exitErr):
		status := exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status = 128 + int(ws.Signal())
		}
		if status < 0 {
			status = StatusFailure
		}
		return Outcome{ExitStatus: status}

	default:
		// The process ran but relaying its output failed.
		e.logf("%s: %v", proc.Path, err)
		return Outcome{ExitStatus: StatusFailure, Err: err}
	}
}

// relay writes a builtin's captured output and reports its error.
func (e *Executor) relay(stdout io.Writer, outcome Outcome) {
	if outcome.Err != nil {
		e.report(outcome.Err)
	}
	if len(outcome.Stderr) > 0 {
		if _, err := e.stderr().Write(outcome.Stderr); err != nil {
			e.logf("relaying stderr: %v", err)
		}
	}
	if len(outcome.Stdout) > 0 {
		if _, err := stdout.Write(outcome.Stdout); err != nil && !errors.Is(err, syscall.EPIPE) {
			e.logf("relaying stdout: %v", err)
		}
	}
}

func (e *Executor) recordCommand(st *stage, outcome Outcome) {
	fields := map[string]interface{}{
		"binary":      st.cmd.Binary,
		"args":        stringList(st.cmd.Args),
		"builtin":     st.kind != NotBuiltin,
		"exit_status": outcome.ExitStatus,
		"duration_ms": float64(time.Since(st.started).Microseconds()) / 1000.0,
	}

	eventType := logger.EventRunCommand
	var (
		spawnErr   *SpawnError
		builtinErr *BuiltinError
	)
	switch {
	case errors.As(outcome.Err, &spawnErr):
		eventType = logger.EventUnknownCommand
		fields["error"] = spawnErr.Err.Error()
	case errors.As(outcome.Err, &builtinErr):
		eventType = logger.EventBuiltinError
		fields["error"] = builtinErr.Err.Error()
	}

	if err := e.events().Record(eventType, fields); err != nil {
		e.logf("recording %s event: %v", eventType, err)
	}
}

// report writes a user facing error to stderr.
func (e *Executor) report(err error) {
	fmt.Fprintf(e.stderr(), "%s: %v\n", ProgramName, err)
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}

func (e *Executor) stdout() io.Writer {
	if e.Stdout == nil {
		return io.Discard
	}
	return e.Stdout
}

func (e *Executor) stderr() io.Writer {
	if e.Stderr == nil {
		return io.Discard
	}
	return e.Stderr
}

func (e *Executor) environ() []string {
	if e.Env == nil {
		return os.Environ()
	}
	return append([]string(nil), e.Env...)
}

func (e *Executor) events() EventRecorder {
	if e.Events == nil {
		return nopRecorder{}
	}
	return e.Events
}

// stringList converts to the list type structured events accept.
func stringList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
