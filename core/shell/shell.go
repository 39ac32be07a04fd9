package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/chainsh/core/logger"
)

// DefaultPrompt is shown when no prompt template is configured.
const DefaultPrompt = `\w> `

// LineReader supplies input lines. Readline returns io.EOF once input is
// exhausted and readline.ErrInterrupt when the user abandons a line.
type LineReader interface {
	Readline() (string, error)
}

// PromptSetter is implemented by interactive readers that display a prompt.
type PromptSetter interface {
	SetPrompt(prompt string)
}

// NewLineReader reads newline terminated lines from r without any terminal
// handling. A final line without a terminator is still returned.
func NewLineReader(r io.Reader) LineReader {
	return &bufferedLineReader{r: bufio.NewReader(r)}
}

type bufferedLineReader struct {
	r *bufio.Reader
}

func (b *bufferedLineReader) Readline() (string, error) {
	line, err := b.r.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

// Prompt renders the prompt template. It understands \u (user), \h (host),
// \w (working directory with the home directory shown as ~) and \$.
type Prompt struct {
	Template string
	User     string
	Host     string
	Home     string
	Color    bool
}

// Render expands the template for the given working directory.
func (p *Prompt) Render(wd string) string {
	prompt := p.Template
	if prompt == "" {
		prompt = DefaultPrompt
	}

	if p.Home != "" && (wd == p.Home || strings.HasPrefix(wd, p.Home+"/")) {
		wd = "~" + strings.TrimPrefix(wd, p.Home)
	}

	sigil := "$"
	if p.User == "root" {
		sigil = "#"
	}

	prompt = strings.NewReplacer(
		`\u`, p.User,
		`\h`, p.Host,
		`\w`, wd,
		`\$`, sigil,
	).Replace(prompt)

	if !p.Color {
		return prompt
	}
	c := color.New(color.FgGreen, color.Bold)
	c.EnableColor()
	return c.Sprint(prompt)
}

// Shell reads lines and executes the chains on them against a single State.
type Shell struct {
	State    *State
	Executor *Executor
	Prompt   *Prompt

	Log    *log.Logger
	Events EventRecorder
}

// New creates a shell running commands through executor. The shell shares the
// executor's logger and event recorder.
func New(state *State, executor *Executor) *Shell {
	return &Shell{
		State:    state,
		Executor: executor,
		Prompt:   &Prompt{},
		Log:      executor.Log,
		Events:   executor.Events,
	}
}

// RunLine records line in the history and then runs each of its chains in
// order. A malformed chain is reported and skipped, the remaining chains
// still run. Nothing else runs once exit is requested.
func (s *Shell) RunLine(ctx context.Context, line string) Outcome {
	line = trimLineEnding(line)

	if err := s.State.History().Append(line); err != nil {
		s.logf("appending to history %q: %v", s.State.History().Path(), err)
	}
	s.record(logger.EventInputLine, map[string]interface{}{
		"line": line,
		"cwd":  s.State.Getwd(),
	})

	outcome := Outcome{}
	for _, segment := range SplitChains(line) {
		if _, exited := s.State.ExitRequested(); exited {
			break
		}

		chain, err := ParseSegment(segment)
		if err != nil {
			s.reportParseError(segment, err)
			outcome = Outcome{ExitStatus: StatusUsage, Err: err}
			continue
		}
		if chain == nil {
			continue
		}

		outcome = s.Executor.Run(ctx, chain, s.State)
	}

	if code, exited := s.State.ExitRequested(); exited {
		outcome.ExitStatus = code
	}
	return outcome
}

// Run executes lines from r until input ends, exit is requested or ctx is
// cancelled. It returns the session's exit status: the code passed to exit,
// or 0 when input simply ended.
func (s *Shell) Run(ctx context.Context, r LineReader) int {
	setter, interactive := r.(PromptSetter)

	for {
		if ctx.Err() != nil {
			return StatusFailure
		}

		if interactive {
			setter.SetPrompt(s.Prompt.Render(s.State.Getwd()))
		}

		line, err := r.Readline()
		switch {
		case errors.Is(err, io.EOF):
			s.record(logger.EventExit, map[string]interface{}{"reason": "eof", "code": StatusSuccess})
			return StatusSuccess

		case errors.Is(err, readline.ErrInterrupt):
			continue

		case err != nil:
			s.logf("reading input: %v", err)
			return StatusFailure
		}

		s.RunLine(ctx, line)

		if code, exited := s.State.ExitRequested(); exited {
			s.record(logger.EventExit, map[string]interface{}{"reason": "builtin", "code": code})
			return code
		}
	}
}

func (s *Shell) reportParseError(segment string, err error) {
	fmt.Fprintf(s.Executor.stderr(), "%s: %v\n", ProgramName, err)
	s.record(logger.EventParseError, map[string]interface{}{
		"segment": strings.TrimSpace(segment),
		"error":   err.Error(),
	})
}

func (s *Shell) record(eventType string, fields map[string]interface{}) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Record(eventType, fields); err != nil {
		s.logf("recording %s event: %v", eventType, err)
	}
}

func (s *Shell) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
