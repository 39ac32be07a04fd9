package core

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/abiosoft/readline"
	"github.com/gliderlabs/ssh"
	"github.com/josephlewis42/chainsh/core/config"
	"github.com/josephlewis42/chainsh/core/logger"
	"github.com/josephlewis42/chainsh/core/shell"
	"github.com/juju/ratelimit"
	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"
)

var crlf = regexp.MustCompile("\r?\n")

// Server serves the shell over SSH. Every session gets its own State starting
// in the server's working directory and shares the server's history.
type Server struct {
	configuration *config.Configuration
	history       *shell.History
	events        *logger.Logger
	log           *log.Logger

	workDir  string
	hostname string

	sshServer *ssh.Server
}

// NewServer creates a server, diagnostics are written to logDest.
func NewServer(configuration *config.Configuration, history *shell.History, events *logger.Logger, logDest io.Writer) (*Server, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	server := &Server{
		configuration: configuration,
		history:       history,
		events:        events,
		log:           log.New(logDest, "[server] ", 0),
		workDir:       workDir,
		hostname:      hostname,
	}

	server.sshServer = &ssh.Server{
		Addr:            fmt.Sprintf(":%d", configuration.SSH.Port),
		Handler:         server.HandleSession,
		PasswordHandler: server.checkPassword,
	}

	keyPem, err := configuration.HostKeyPem()
	if err != nil {
		return nil, fmt.Errorf("reading host key, did you run init? %w", err)
	}
	signer, err := gossh.ParsePrivateKey(keyPem)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	server.sshServer.AddHostKey(signer)

	return server, nil
}

// checkPassword accepts any configured password for any user.
func (s *Server) checkPassword(ctx ssh.Context, password string) bool {
	matched := 0
	for _, candidate := range s.configuration.SSH.Passwords {
		matched |= subtle.ConstantTimeCompare([]byte(password), []byte(candidate))
	}

	s.log.Printf("login user=%q remote=%s accepted=%v", ctx.User(), ctx.RemoteAddr(), matched == 1)
	return matched == 1
}

// HandleSession runs a shell for one SSH session and exits the session with
// the shell's status.
func (s *Server) HandleSession(sess ssh.Session) {
	sessionLogger := s.events.NewSession()
	_, winch, isPty := sess.Pty()

	if err := sessionLogger.Record(logger.EventSessionStart, map[string]interface{}{
		"user":        sess.User(),
		"remote_addr": sess.RemoteAddr().String(),
		"command":     sess.RawCommand(),
		"is_pty":      isPty,
	}); err != nil {
		s.log.Printf("recording session start: %v", err)
	}

	var stdout, stderr io.Writer = sess, sess.Stderr()
	if isPty {
		stdout, stderr = &crlfWriter{w: stdout}, &crlfWriter{w: stderr}
	}
	if rate := s.configuration.SSH.MaxBytesPerSecond; rate > 0 {
		stdout = ratelimit.Writer(stdout, ratelimit.NewBucketWithRate(float64(rate), rate))
	}

	executor := &shell.Executor{
		Stdout: stdout,
		Stderr: stderr,
		Events: sessionLogger,
		Log:    s.log,
	}
	sh := shell.New(shell.NewState(afero.NewOsFs(), s.workDir, s.history), executor)
	sh.Prompt = &shell.Prompt{
		Template: s.configuration.Prompt,
		User:     sess.User(),
		Host:     s.hostname,
		Home:     s.workDir,
		Color:    s.configuration.UseColor(isPty),
	}

	ctx := sess.Context()

	// A command line runs once with the session's input available to it.
	if raw := sess.RawCommand(); raw != "" {
		executor.Stdin = sess
		sess.Exit(sh.RunLine(ctx, raw).ExitStatus)
		return
	}

	reader, closeReader, err := s.newLineReader(ctx, sess, stdout, stderr, winch, isPty)
	if err != nil {
		s.log.Printf("starting line reader: %v", err)
		sess.Exit(shell.StatusFailure)
		return
	}
	defer closeReader()

	sess.Exit(sh.Run(ctx, reader))
}

// newLineReader uses readline for sessions with a PTY and plain line reading
// otherwise.
func (s *Server) newLineReader(ctx context.Context, sess ssh.Session, stdout, stderr io.Writer, winch <-chan ssh.Window, isPty bool) (shell.LineReader, func(), error) {
	if !isPty {
		return shell.NewLineReader(sess), func() {}, nil
	}

	pty, _, _ := sess.Pty()
	var width atomic.Int64
	width.Store(int64(pty.Window.Width))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case window, ok := <-winch:
				if !ok {
					return
				}
				width.Store(int64(window.Width))
			}
		}
	}()

	cfg := &readline.Config{
		Stdin:  readline.NewCancelableStdin(sess),
		Stdout: stdout,
		Stderr: stderr,
		FuncGetWidth: func() int {
			return int(width.Load())
		},
		FuncIsTerminal: func() bool {
			return true
		},
	}
	if err := cfg.Init(); err != nil {
		return nil, nil, err
	}

	instance, err := readline.NewEx(cfg)
	if err != nil {
		return nil, nil, err
	}
	return instance, func() { instance.Close() }, nil
}

// ListenAndServe blocks serving SSH connections.
func (s *Server) ListenAndServe() error {
	s.log.Printf("- Starting SSH server on %s\n", s.sshServer.Addr)
	return s.sshServer.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	return s.sshServer.Serve(l)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sshServer.Shutdown(ctx)
}

// crlfWriter translates line endings for terminals that don't.
type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(crlf.ReplaceAll(p, []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
