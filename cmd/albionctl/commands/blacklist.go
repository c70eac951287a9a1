package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "The 'blacklist' subcommand works with items that are no longer fetched.",
	}
	cmd.AddCommand(newBlacklistListCmd(), newBlacklistRemoveCmd())
	return cmd
}

func newBlacklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists blacklisted items, oldest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			entries, err := stores.Blacklist.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ITEM\tADDED\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.UniqueName, e.CreatedAt.Format(time.RFC3339), e.Reason)
			}
			return tw.Flush()
		},
	}
}

func newBlacklistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item> [item...]",
		Short: "Removes items from the blacklist so the collector fetches them again.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			for _, item := range args {
				if err := stores.Blacklist.Remove(cmd.Context(), item); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", item)
			}
			return nil
		},
	}
}
