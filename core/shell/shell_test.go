package shell

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abiosoft/readline"
	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) (*Shell, *lockedBuffer) {
	t.Helper()

	out := &lockedBuffer{}
	return New(newOsState(t), newTestExecutor(out)), out
}

func TestRunLine(t *testing.T) {
	requireBinaries(t, "echo", "false", "tr")

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
		goldie.WithTestNameForDir(true),
	)

	cases := map[string]string{
		"echo-and":         "echo hello && echo world",
		"echo-or":          "echo hello || echo world",
		"false-or":         "false || echo recovered",
		"false-and":        "false && echo skipped; echo next",
		"leading-operator": "&& echo hi; echo after",
		"not-found":        "definitely-not-a-command-xyz && echo skipped || echo fallback",
		"cd-missing":       "cd invalid_dir; echo still running",
		"cd-usage":         "cd",
		"pipe-tr":          "echo hello | tr a-z A-Z",
		"empty-segments":   ";; echo one ;; ; echo two",
	}

	for tn, line := range cases {
		t.Run(tn, func(t *testing.T) {
			sh, out := newTestShell(t)
			sh.RunLine(context.Background(), line+"\n")
			g.Assert(t, tn, []byte(out.String()))
		})
	}
}

func TestRunLine_history(t *testing.T) {
	requireBinaries(t, "echo")

	sh, out := newTestShell(t)
	for _, line := range []string{"echo 1\n", "echo 2\n", "history\n"} {
		sh.RunLine(context.Background(), line)
	}

	contents, err := afero.ReadFile(afero.NewOsFs(), sh.State.History().Path())
	require.NoError(t, err)
	assert.Equal(t, "echo 1\necho 2\nhistory\n", string(contents))
	assert.Equal(t, "1\n2\necho 1\necho 2\nhistory\n", out.String())
}

func TestRunLine_historyKeepsMalformedLines(t *testing.T) {
	sh, _ := newTestShell(t)
	sh.RunLine(context.Background(), "&& oops\r\n")
	sh.RunLine(context.Background(), "   \n")

	records, err := sh.State.History().Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"&& oops", "   "}, records)
}

func TestRunLine_status(t *testing.T) {
	requireBinaries(t, "echo", "false")

	cases := map[string]struct {
		line string
		want int
	}{
		"success":     {line: "echo hi", want: 0},
		"failure":     {line: "false", want: 1},
		"last chain":  {line: "false; echo hi", want: 0},
		"parse error": {line: "echo hi; ls |", want: StatusUsage},
		"not found":   {line: "definitely-not-a-command-xyz", want: StatusNotFound},
		"exit code":   {line: "exit 7", want: 7},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			sh, _ := newTestShell(t)
			assert.Equal(t, tc.want, sh.RunLine(context.Background(), tc.line).ExitStatus)
		})
	}
}

func TestRunLine_exitStopsLine(t *testing.T) {
	requireBinaries(t, "echo")

	sh, out := newTestShell(t)
	outcome := sh.RunLine(context.Background(), "echo a; exit 2; echo b")

	assert.Equal(t, 2, outcome.ExitStatus)
	assert.Equal(t, "a\n", out.String())
}

func TestRunLine_cdPersists(t *testing.T) {
	requireBinaries(t, "pwd")

	sh, out := newTestShell(t)
	root := sh.State.Getwd()
	require.NoError(t, afero.NewOsFs().Mkdir(filepath.Join(root, "sub"), 0755))

	sh.RunLine(context.Background(), "cd sub")
	sh.RunLine(context.Background(), "pwd")

	assert.Equal(t, filepath.Join(root, "sub")+"\n", out.String())
}

type scriptedReader struct {
	lines   []string
	errs    []error
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

func TestRun(t *testing.T) {
	requireBinaries(t, "echo")

	t.Run("eof", func(t *testing.T) {
		sh, out := newTestShell(t)
		code := sh.Run(context.Background(), NewLineReader(strings.NewReader("echo a\necho b")))
		assert.Equal(t, 0, code)
		assert.Equal(t, "a\nb\n", out.String())
	})

	t.Run("exit", func(t *testing.T) {
		sh, out := newTestShell(t)
		code := sh.Run(context.Background(), NewLineReader(strings.NewReader("echo a\nexit 3\necho b\n")))
		assert.Equal(t, 3, code)
		assert.Equal(t, "a\n", out.String())
	})

	t.Run("exit without code", func(t *testing.T) {
		sh, _ := newTestShell(t)
		assert.Equal(t, 0, sh.Run(context.Background(), NewLineReader(strings.NewReader("false\nexit\n"))))
	})

	t.Run("interrupt", func(t *testing.T) {
		sh, out := newTestShell(t)
		r := &scriptedReader{
			lines: []string{"echo lost", "echo kept"},
			errs:  []error{readline.ErrInterrupt, nil},
		}
		assert.Equal(t, 0, sh.Run(context.Background(), r))
		assert.Equal(t, "kept\n", out.String())
		assert.Len(t, r.prompts, 3)
	})

	t.Run("cancelled", func(t *testing.T) {
		sh, out := newTestShell(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, StatusFailure, sh.Run(ctx, NewLineReader(strings.NewReader("echo a\n"))))
		assert.Empty(t, out.String())
	})

	t.Run("events", func(t *testing.T) {
		sh, _ := newTestShell(t)
		events := &eventCollector{}
		sh.Events = events
		sh.Executor.Events = events

		sh.Run(context.Background(), NewLineReader(strings.NewReader("echo a; ||\nexit 1\n")))
		assert.Equal(t, []string{
			"input_line", "run_command", "parse_error",
			"input_line", "run_command", "exit",
		}, events.types())
	})
}

func TestRun_prompt(t *testing.T) {
	sh, _ := newTestShell(t)
	root := sh.State.Getwd()
	require.NoError(t, afero.NewOsFs().Mkdir(filepath.Join(root, "sub"), 0755))

	sh.Prompt = &Prompt{Template: `\u@\h:\w\$ `, User: "alice", Host: "box", Home: root}
	r := &scriptedReader{lines: []string{"cd sub"}, errs: []error{nil}}
	sh.Run(context.Background(), r)

	assert.Equal(t, []string{"alice@box:~$ ", "alice@box:~/sub$ "}, r.prompts)
}

func TestPromptRender(t *testing.T) {
	cases := map[string]struct {
		prompt Prompt
		wd     string
		want   string
	}{
		"default":      {prompt: Prompt{}, wd: "/tmp", want: "/tmp> "},
		"root":         {prompt: Prompt{Template: `\u\$ `, User: "root"}, wd: "/", want: "root# "},
		"home":         {prompt: Prompt{Template: `\w`, Home: "/home/a"}, wd: "/home/a", want: "~"},
		"home prefix":  {prompt: Prompt{Template: `\w`, Home: "/home/a"}, wd: "/home/ab", want: "/home/ab"},
		"host":         {prompt: Prompt{Template: `[\h]`, Host: "box"}, wd: "/", want: "[box]"},
		"no escapes":   {prompt: Prompt{Template: "$ "}, wd: "/", want: "$ "},
		"repeated use": {prompt: Prompt{Template: `\w \w`}, wd: "/x", want: "/x /x"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.prompt.Render(tc.wd))
		})
	}

	t.Run("color", func(t *testing.T) {
		p := Prompt{Template: "> ", Color: true}
		rendered := p.Render("/")
		assert.Contains(t, rendered, "\x1b[")
		assert.Contains(t, rendered, "> ")
	})
}
