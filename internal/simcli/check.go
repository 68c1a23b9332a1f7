package simcli

import (
	"fmt"

	"github.com/signalsfoundry/ran-scheduler/internal/scenario"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <scenario.yaml>",
		Short: "Validate a scenario file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Scenario:  %s\n", sc.Name)
			fmt.Printf("Cells:     %d (%d kHz SCS)\n", len(sc.Cells), sc.Cells[0].SCSkHz)
			fmt.Printf("UEs:       %d\n", len(sc.UEs))
			fmt.Printf("Traffic:   %d events, %d load profiles, seed %d\n",
				len(sc.Traffic.Events), len(sc.Traffic.Load), sc.Traffic.Seed)
			fmt.Printf("Feedback:  %.0f%% DL error, %.0f%% UL error\n",
				sc.Traffic.DLErrorRate*100, sc.Traffic.ULErrorRate*100)
			return nil
		},
	}
}
