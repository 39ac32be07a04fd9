package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"os/user"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/chainsh/core/config"
	"github.com/josephlewis42/chainsh/core/logger"
	"github.com/josephlewis42/chainsh/core/shell"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgPath     string
	commandLine string
	noExec      bool
)

func loadConfig() (*config.Configuration, error) {
	return config.Load(cfgPath)
}

// openEventLog returns a logger that discards everything when event logging
// is disabled.
func openEventLog(configuration *config.Configuration) (*logger.Logger, func(), error) {
	if !configuration.EventLogEnabled() {
		return &logger.Logger{}, func() {}, nil
	}

	fd, err := configuration.OpenEventLog()
	if err != nil {
		return nil, nil, err
	}
	return logger.NewJsonLinesLogRecorder(fd), func() { fd.Close() }, nil
}

// exitCodeError carries the shell's exit status out of cobra.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitStatus(code int) error {
	if code == shell.StatusSuccess {
		return nil
	}
	return &exitCodeError{code: code}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chainsh",
	Short: "A command chain shell",
	Long: `Reads lines of ;-separated command chains joined by &&, || and | and
runs them. Supports the cd, exit and history builtins.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		diagnostics := log.New(cmd.ErrOrStderr(), "[chainsh] ", 0)

		if noExec {
			if cmd.Flags().Changed("command") {
				return exitStatus(checkSyntax(shell.NewLineReader(strings.NewReader(commandLine)), cmd.ErrOrStderr()))
			}
			return exitStatus(checkSyntax(shell.NewLineReader(cmd.InOrStdin()), cmd.ErrOrStderr()))
		}

		configuration, err := loadConfig()
		if err != nil {
			return err
		}

		events, closeEvents, err := openEventLog(configuration)
		if err != nil {
			return err
		}
		defer closeEvents()

		historyPath, err := configuration.ResolveHistoryPath(os.Getenv)
		if err != nil {
			return err
		}
		history := shell.NewHistory(afero.NewOsFs(), historyPath)
		state, err := shell.NewProcessState(history)
		if err != nil {
			return err
		}

		session := events.NewSession()
		username := currentUsername()
		if err := session.Record(logger.EventSessionStart, map[string]interface{}{
			"user":    username,
			"command": commandLine,
		}); err != nil {
			diagnostics.Printf("recording session start: %v", err)
		}

		executor := &shell.Executor{
			Stdin:  cmd.InOrStdin(),
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
			Events: session,
			Log:    diagnostics,
		}
		sh := shell.New(state, executor)

		if cmd.Flags().Changed("command") {
			return exitStatus(sh.RunLine(cmd.Context(), commandLine).ExitStatus)
		}

		stdin, isTerminal := cmd.InOrStdin().(*os.File)
		isTerminal = isTerminal && (isatty.IsTerminal(stdin.Fd()) || isatty.IsCygwinTerminal(stdin.Fd()))
		if !isTerminal {
			// The shell reads ahead on its input, commands get none of it.
			executor.Stdin = nil
			return exitStatus(sh.Run(cmd.Context(), shell.NewLineReader(cmd.InOrStdin())))
		}

		// Interrupts belong to the foreground command, the shell only
		// abandons the current line.
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)
		go func() {
			for range interrupts {
			}
		}()

		hostname, _ := os.Hostname()
		home, _ := os.UserHomeDir()
		sh.Prompt = &shell.Prompt{
			Template: configuration.Prompt,
			User:     username,
			Host:     hostname,
			Home:     home,
			Color:    configuration.UseColor(true),
		}

		rl, err := readline.NewEx(&readline.Config{
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		return exitStatus(sh.Run(cmd.Context(), rl))
	},
}

// checkSyntax parses every line without running anything and reports each
// malformed chain. It returns StatusUsage if any chain was malformed.
func checkSyntax(r shell.LineReader, stderr io.Writer) int {
	status := shell.StatusSuccess
	for {
		line, err := r.Readline()
		if err != nil {
			return status
		}

		if _, err := shell.ParseLine(line); err != nil {
			status = shell.StatusUsage
			for _, parseErr := range splitJoined(err) {
				fmt.Fprintf(stderr, "%s: %v\n", shell.ProgramName, parseErr)
			}
		}
	}
}

func splitJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	cobra.CheckErr(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "config path")
	rootCmd.Flags().StringVarP(&commandLine, "command", "c", "", "run a single line and exit with its status")
	rootCmd.Flags().BoolVarP(&noExec, "no-exec", "n", false, "check input for syntax errors without running anything")
}
