package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codyseavey/albion-tracker/internal/app"
	"github.com/codyseavey/albion-tracker/internal/config"
	"github.com/codyseavey/albion-tracker/internal/store"
)

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "albionctl",
		Short:         "albionctl collects Albion Online market prices and reports on them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCollectCmd(),
		newProfitCmd(),
		newResetCursorCmd(),
		newBlacklistCmd(),
	)
	return root
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStores loads the config and opens only the stores, without the catalog
func openStores(ctx context.Context) (*config.Config, *store.Stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, stores, nil
}
