package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect retention settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "classes",
		Short: "List the pool's retention classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.openPool(cmd.Context())
			if err != nil {
				return err
			}
			classes, err := pool.RetentionClasses()
			if err != nil {
				return err
			}
			defer func() { _ = classes.Close() }()

			all, err := classes.All()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, rc := range all {
				fmt.Fprintf(w, "%s\t%s\n", rc.Name(), formatPeriod(rc.Period()))
			}
			return w.Flush()
		},
	})
	return cmd
}
