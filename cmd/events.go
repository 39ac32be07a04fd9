package cmd

import (
	"errors"
	"fmt"

	"github.com/josephlewis42/chainsh/core/logger"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
	"sigs.k8s.io/yaml"
)

var reportKind string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Explore the shell event log.",
}

type eventReport interface {
	Update(le *structpb.Struct)
}

var reportCommand = &cobra.Command{
	Use:   "report",
	Short: "Show a report of events.",
	Long: `Aggregates the event log. Kinds:

  summary   counts of commands, errors and exits (default)
  bugs      parse errors, unknown commands and failing builtins
  sessions  the lines and commands of each session`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig()
		if err != nil {
			return err
		}
		if !config.EventLogEnabled() {
			return errors.New("event logging is disabled, set event_log_path in the config")
		}

		var report eventReport
		switch reportKind {
		case "summary":
			report = &logger.Report{}
		case "bugs":
			report = logger.NewBugReport()
		case "sessions":
			report = &logger.InteractionReport{}
		default:
			return fmt.Errorf("unknown report kind %q", reportKind)
		}

		fd, err := config.ReadEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		if err := logger.ReadJSONLinesLog(fd, report.Update); err != nil {
			return err
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(reportCommand)
	reportCommand.Flags().StringVar(&reportKind, "kind", "summary", "report kind: summary, bugs or sessions")
}
