package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCursorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cursor",
		Short: "Moves the ingestion cursor back to the start of the catalog.",
		Long: "Moves the ingestion cursor back to the start of the catalog.\n" +
			"Do not run this while a collector is mid-batch; concurrent writers to the cursor are not coordinated.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			previous, err := stores.Progress.Get(cmd.Context())
			if err != nil {
				return err
			}
			if err := stores.Progress.Set(cmd.Context(), 0); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor reset from %d to 0\n", previous)
			return nil
		},
	}
}
