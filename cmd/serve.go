package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/josephlewis42/chainsh/core"
	"github.com/josephlewis42/chainsh/core/shell"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the shell over SSH on a local port.",
	Long:  `Each SSH session runs its own shell in the current directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		logger := log.New(cmd.ErrOrStderr(), "", 0)
		logger.Println("Initializing server...")

		configuration, err := loadConfig()
		if err != nil {
			return err
		}
		if len(configuration.SSH.Passwords) == 0 {
			logger.Println("Warning: ssh.passwords is empty, every login will be refused")
		}

		logger.Println("Starting event log...")
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
		server, err := core.NewServer(configuration, history, events, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		errs := make(chan error, 1)
		go func() {
			errs <- server.ListenAndServe()
		}()

		sigs := make(chan os.Signal, 1)

		logger.Println("- Starting interrupt handler")
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case err := <-errs:
			return err
		case sig := <-sigs:
			logger.Printf("Got signal %q, terminating...", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return err
		}
		if err := <-errs; err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			return err
		}
		logger.Print("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
