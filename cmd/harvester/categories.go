package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the configured categories and their crawl targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tEXPECTED\tTARGET\tURL")

		total := 0
		for _, c := range cfg.Categories {
			target := c.Target(cfg.Crawler.MaxCacheValue)
			total += target
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", c.Path, c.ExpectedCount, target, cfg.Site.CatalogURL+c.Path)
		}
		fmt.Fprintf(w, "\t\t%d\t\n", total)

		return w.Flush()
	},
}
