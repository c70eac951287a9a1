package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codyseavey/albion-tracker/internal/services"
)

func newProfitCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "profit [--limit N]",
		Short: "Prints the most profitable items to flip from the stored prices.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stores, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			summaries, err := services.NewProfitService(stores.Prices, cfg.ProfitCacheTTL).TopProfits(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ITEM\tNAME\tCITY\tBUY\tSELL\tPROFIT\tPCT")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f%%\n",
					s.UniqueName, s.ItemName, s.City, s.BuyPriceMax, s.SellPriceMin, s.Profit, s.ProfitPercentage)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", services.MaxProfitResults, "Maximum number of items to print.")
	return cmd
}
