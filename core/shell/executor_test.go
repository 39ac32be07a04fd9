package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is shared by concurrently running pipeline stages.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordedEvent struct {
	Type   string
	Fields map[string]interface{}
}

type eventCollector struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (c *eventCollector) Record(eventType string, fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, recordedEvent{Type: eventType, Fields: fields})
	return nil
}

func (c *eventCollector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}

// newOsState creates a virtual state in a fresh temporary directory on the
// real filesystem so external commands can run inside it.
func newOsState(t *testing.T) *State {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	fs := afero.NewOsFs()
	return NewState(fs, dir, NewHistory(fs, filepath.Join(dir, ".history")))
}

func mustParse(t *testing.T, segment string) *Chain {
	t.Helper()
	chain, err := ParseSegment(segment)
	require.NoError(t, err)
	require.NotNil(t, chain)
	return chain
}

func newTestExecutor(out *lockedBuffer) *Executor {
	return &Executor{Stdin: strings.NewReader(""), Stdout: out, Stderr: out}
}

func TestExecutor_shortCircuit(t *testing.T) {
	requireBinaries(t, "echo", "true", "false")

	cases := map[string]struct {
		segment    string
		wantOut    string
		wantStatus int
	}{
		"and runs on success":       {segment: "true && echo a", wantOut: "a\n"},
		"and skips on failure":      {segment: "false && echo a", wantStatus: 1},
		"or runs on failure":        {segment: "false || echo b", wantOut: "b\n"},
		"or skips on success":       {segment: "true || echo b"},
		"and abandons rest":         {segment: "false && echo a || echo b", wantStatus: 1},
		"or abandons rest":          {segment: "true || echo a && echo b"},
		"or chain":                  {segment: "false || false || echo c", wantOut: "c\n"},
		"and then or":               {segment: "true && false || echo d", wantOut: "d\n"},
		"echo and echo":             {segment: "echo hello && echo world", wantOut: "hello\nworld\n"},
		"last status of and chain":  {segment: "true && false", wantStatus: 1},
		"echo or echo":              {segment: "echo hello || echo world", wantOut: "hello\n"},
		"failing pipeline triggers": {segment: "echo x | false || echo e", wantOut: "e\n"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			var out lockedBuffer
			outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, tc.segment), newOsState(t))

			assert.Equal(t, tc.wantOut, out.String())
			assert.Equal(t, tc.wantStatus, outcome.ExitStatus)
		})
	}
}

func TestExecutor_exitStatus(t *testing.T) {
	requireBinaries(t, "sh")

	var out lockedBuffer
	chain := &Chain{Elements: []Element{CommandElement("sh", "-c", "exit 3")}}
	outcome := newTestExecutor(&out).Run(context.Background(), chain, newOsState(t))
	assert.Equal(t, 3, outcome.ExitStatus)
	assert.NoError(t, outcome.Err)
}

func TestExecutor_notFound(t *testing.T) {
	var out lockedBuffer
	outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "definitely-not-a-command-xyz arg"), newOsState(t))

	assert.Equal(t, StatusNotFound, outcome.ExitStatus)
	assert.Equal(t, "chainsh: definitely-not-a-command-xyz: command not found\n", out.String())

	var spawnErr *SpawnError
	require.True(t, errors.As(outcome.Err, &spawnErr))
	assert.True(t, errors.Is(outcome.Err, ErrNotFound))
}

func TestExecutor_notExecutable(t *testing.T) {
	state := newOsState(t)
	require.NoError(t, afero.WriteFile(afero.NewOsFs(), filepath.Join(state.Getwd(), "script"), []byte("data"), 0644))

	var out lockedBuffer
	outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "./script"), state)

	assert.Equal(t, StatusNotExecutable, outcome.ExitStatus)
	assert.True(t, strings.HasPrefix(out.String(), "chainsh: ./script: "), out.String())
}

func TestExecutor_pipeline(t *testing.T) {
	requireBinaries(t, "echo", "wc", "tr", "true", "false")

	t.Run("byte count", func(t *testing.T) {
		var out lockedBuffer
		outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "echo hello | wc -c"), newOsState(t))
		assert.True(t, outcome.Success())
		assert.Equal(t, "6", strings.TrimSpace(out.String()))
	})

	t.Run("three stages", func(t *testing.T) {
		var out lockedBuffer
		outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "echo hello | tr a-z A-Z | tr L _"), newOsState(t))
		assert.True(t, outcome.Success())
		assert.Equal(t, "HE__O\n", out.String())
	})

	t.Run("last stage decides status", func(t *testing.T) {
		var out lockedBuffer
		exe := newTestExecutor(&out)
		assert.Equal(t, 0, exe.Run(context.Background(), mustParse(t, "false | true"), newOsState(t)).ExitStatus)
		assert.Equal(t, 1, exe.Run(context.Background(), mustParse(t, "true | false"), newOsState(t)).ExitStatus)
	})

	t.Run("missing stage", func(t *testing.T) {
		var out lockedBuffer
		outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "echo hi | definitely-not-a-command-xyz"), newOsState(t))
		assert.Equal(t, StatusNotFound, outcome.ExitStatus)
		assert.Contains(t, out.String(), "command not found")
	})

	t.Run("builtin feeds pipe", func(t *testing.T) {
		state := newOsState(t)
		require.NoError(t, state.History().Append("echo 1"))
		require.NoError(t, state.History().Append("echo 2"))

		var out lockedBuffer
		outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "history | wc -l"), state)
		assert.True(t, outcome.Success())
		assert.Equal(t, "2", strings.TrimSpace(out.String()))
	})

	t.Run("builtins in pipeline are isolated", func(t *testing.T) {
		state := newOsState(t)
		dir := state.Getwd()

		var out lockedBuffer
		outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "echo x | cd / | exit 5"), state)
		assert.Equal(t, 5, outcome.ExitStatus)
		assert.Equal(t, dir, state.Getwd())

		_, exited := state.ExitRequested()
		assert.False(t, exited)
	})
}

func TestExecutor_cd(t *testing.T) {
	requireBinaries(t, "pwd")

	state := newOsState(t)
	require.NoError(t, afero.NewOsFs().Mkdir(filepath.Join(state.Getwd(), "sub"), 0755))

	var out lockedBuffer
	outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, "cd sub && pwd"), state)

	assert.True(t, outcome.Success())
	assert.Equal(t, state.Getwd()+"\n", out.String())
	assert.Equal(t, "sub", filepath.Base(state.Getwd()))
}

func TestExecutor_exitStopsChain(t *testing.T) {
	requireBinaries(t, "echo")

	for _, segment := range []string{"exit 4 && echo no", "exit 4 || echo no", "exit 4 | true && exit 4 || echo no"} {
		t.Run(segment, func(t *testing.T) {
			var out lockedBuffer
			state := newOsState(t)
			outcome := newTestExecutor(&out).Run(context.Background(), mustParse(t, segment), state)

			code, exited := state.ExitRequested()
			assert.True(t, exited)
			assert.Equal(t, 4, code)
			assert.Equal(t, 4, outcome.ExitStatus)
			assert.Empty(t, out.String())
		})
	}
}

func TestExecutor_events(t *testing.T) {
	requireBinaries(t, "true")

	var (
		out    lockedBuffer
		events eventCollector
	)
	exe := newTestExecutor(&out)
	exe.Events = &events

	exe.Run(context.Background(), mustParse(t, "true && cd missing || definitely-not-a-command-xyz"), newOsState(t))

	assert.Equal(t, []string{"run_command", "builtin_error", "unknown_command"}, events.types())
	assert.Equal(t, "true", events.events[0].Fields["binary"])
	assert.Equal(t, false, events.events[0].Fields["builtin"])
	assert.Equal(t, true, events.events[1].Fields["builtin"])
	assert.Equal(t, StatusNotFound, events.events[2].Fields["exit_status"])
}

func TestExecutor_cancelledContext(t *testing.T) {
	requireBinaries(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out lockedBuffer
	outcome := newTestExecutor(&out).Run(ctx, mustParse(t, "sleep 10"), newOsState(t))
	assert.False(t, outcome.Success())
}
