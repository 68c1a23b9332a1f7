// Package simcli implements the schedsim command line interface.
package simcli

import (
	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger logging.Logger
)

// NewRootCmd creates the root cobra command for the schedsim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedsim",
		Short: "Slot-level RAN scheduler simulator",
		Long: "schedsim replays traffic scenarios against the MAC scheduler and reports\n" +
			"grants, retransmissions, and HARQ discards.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.New(logging.Config{Level: flagLogLevel, Format: flagLogFormat})
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newVersionCmd(),
	)

	return root
}
