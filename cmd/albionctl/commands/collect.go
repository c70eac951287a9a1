package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/codyseavey/albion-tracker/internal/app"
	"github.com/codyseavey/albion-tracker/internal/config"
	"github.com/codyseavey/albion-tracker/internal/services"
)

type batchRunner interface {
	RunBatch(ctx context.Context) (*services.RunResult, error)
}

func newCollectCmd() *cobra.Command {
	var (
		batchSize int
		untilEnd  bool
	)

	cmd := &cobra.Command{
		Use:   "collect [--batch-size N] [--until-end]",
		Short: "Runs one ingestion batch from the saved cursor.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if batchSize > 0 {
				cfg.BatchSize = batchSize
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runBatches(cmd.Context(), a.Worker, cmd.OutOrStdout(), untilEnd, cfg.MaxHeldRuns)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Items per batch (defaults to BATCH_SIZE).")
	cmd.Flags().BoolVar(&untilEnd, "until-end", false, "Keep running batches until the end of the catalog.")
	return cmd
}

// runBatches prints each run result. With untilEnd it keeps going until the end
// of the catalog, giving up after maxStalled runs in a row leave the cursor in place.
func runBatches(ctx context.Context, runner batchRunner, out io.Writer, untilEnd bool, maxStalled int) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	stalled := 0
	for {
		result, err := runner.RunBatch(ctx)
		if result != nil {
			if encErr := enc.Encode(result); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		if !untilEnd || result.ReachedEnd {
			return nil
		}

		if result.EndCursor == result.StartCursor {
			stalled++
			if stalled >= maxStalled {
				return fmt.Errorf("collect: cursor stuck at %d after %d runs", result.EndCursor, stalled)
			}
		} else {
			stalled = 0
		}
	}
}
