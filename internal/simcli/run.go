package simcli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/internal/observability"
	"github.com/signalsfoundry/ran-scheduler/internal/scenario"
	"github.com/signalsfoundry/ran-scheduler/internal/sim"
	"github.com/signalsfoundry/ran-scheduler/slot"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		numSlots uint32
		realTime bool
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Replay a scenario against the scheduler",
		Long: `run loads a scenario file, brings up the cells and UEs it describes, and
drives the scheduler for the requested number of slots. HARQ feedback for
every grant is generated from the scenario's error rates.

Slots advance as fast as the scheduler allows unless --real-time pins them
to the numerology's slot duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), logger)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, logger)

			reg := prometheus.NewRegistry()
			collector, err := observability.NewSchedCollector(reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			runner, err := sim.New(sc, sim.WithLogger(logger), sim.WithMetrics(collector))
			if err != nil {
				return err
			}

			if listen != "" {
				srv := &http.Server{
					Addr:    listen,
					Handler: sim.NewServer(runner, collector.Handler(), logger),
				}
				go func() {
					logger.Info(ctx, "status server listening", logging.String("addr", listen))
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error(ctx, "status server failed", logging.Any("error", err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Warn(ctx, "status server shutdown", logging.Any("error", err))
					}
				}()
			}

			mode := slot.Accelerated
			if realTime {
				mode = slot.RealTime
			}

			start := time.Now()
			stats, err := runner.Run(ctx, numSlots, mode)
			if err != nil {
				// An interrupt stops the run early; the slots that did
				// complete are still worth reporting.
				logger.Warn(ctx, "run interrupted", logging.Any("error", err))
			}

			printSummary(sc, stats, time.Since(start))
			return nil
		},
	}

	cmd.Flags().Uint32Var(&numSlots, "slots", 2000, "Number of slots to simulate")
	cmd.Flags().BoolVar(&realTime, "real-time", false, "Advance one slot per slot duration instead of free-running")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve /healthz, /status, and /metrics on this address (empty disables)")

	return cmd
}

func printSummary(sc *scenario.Scenario, stats sim.Stats, elapsed time.Duration) {
	simulated := time.Duration(stats.Slots) * sc.Numerology().SlotDuration()

	fmt.Printf("Scenario:  %s\n", sc.Name)
	fmt.Printf("Slots:     %d (%s simulated, %s wall)\n",
		stats.Slots, simulated, elapsed.Round(time.Millisecond))
	fmt.Printf("DL:        %d grants, %d retx, %d bytes (%s)\n",
		stats.DLGrants, stats.DLReTx, stats.DLBytes, throughput(stats.DLBytes, simulated))
	fmt.Printf("UL:        %d grants, %d retx, %d bytes (%s)\n",
		stats.ULGrants, stats.ULReTx, stats.ULBytes, throughput(stats.ULBytes, simulated))
	fmt.Printf("Discards:  %d DL, %d UL\n", stats.DLDiscards, stats.ULDiscards)
	fmt.Printf("UEs:       %d created, %d failed, %d deleted\n",
		stats.UEsCreated, stats.UEsFailed, stats.UEsDeleted)
}

// throughput formats new-transmission bytes over simulated air time.
func throughput(bytes uint64, simulated time.Duration) string {
	if simulated <= 0 {
		return "n/a"
	}
	mbps := float64(bytes) * 8 / 1e6 / simulated.Seconds()
	return fmt.Sprintf("%.2f Mbit/s", mbps)
}
