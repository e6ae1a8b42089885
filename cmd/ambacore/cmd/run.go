package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lokegustafsson/ambacore/internal/service"
	"github.com/lokegustafsson/ambacore/pkg/config"
)

var (
	configPath   string
	snapshotPath string
)

// runCmd drives a replay harness (or, in a real deployment, attaches to a
// live host engine's callbacks) through the configured collaborators until
// interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the core against the configured replay sources",
	Long: `Run loads module_path and its collaborators from a config file,
then drives every configured replay source (file, HTTP webhook, or Kafka)
through the plugin boundary: translate/execute/fork/merge/kill callbacks
build the block and state graphs, flushed periodically to the configured
viewer transport.

The process blocks until interrupted (SIGINT/SIGTERM), at which point it
performs a final flush and tears down cleanly.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	binName := BinName()
	runCmd.Example = `  # Run with a config file
  ` + binName + ` run -c ./config.yaml

  # Run and dump a gzipped JSON snapshot of the reconstructed graph on exit
  ` + binName + ` run -c ./config.yaml --snapshot ./graph.json.gz`

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (defaults to ./config.yaml)")
	runCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "If set, write a gzipped JSON snapshot of the reconstructed adjacency here on exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to construct service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("ambacore: received interrupt, shutting down...")
		cancel()
	}()

	runErr := svc.Start(ctx)

	if snapshotPath != "" {
		result, err := svc.WriteSnapshot(snapshotPath)
		if err != nil {
			log.Warn("ambacore: failed to write snapshot to %s: %v", snapshotPath, err)
		} else {
			log.Info("ambacore: wrote snapshot to %s (%d bytes json, %d bytes gzipped, %.1f%%)",
				snapshotPath, result.JSONSize, result.CompressedSize, result.CompressionPct)
		}
	}

	if stopErr := svc.Stop(); stopErr != nil {
		log.Warn("ambacore: error during shutdown: %v", stopErr)
	}

	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}
