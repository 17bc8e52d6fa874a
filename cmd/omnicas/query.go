package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/format/ndjson"
)

func (a *app) queryCmd() *cobra.Command {
	var (
		deleted bool
		all     bool
		since   string
		until   string
		fields  []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List clips written or deleted in a time range as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			q, err := pool.NewQuery()
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			switch {
			case all:
				err = q.SetType(omnicas.QueryAll)
			case deleted:
				err = q.SetType(omnicas.QueryDeleted)
			}
			if err != nil {
				return err
			}
			if err := setBound(since, q.SetStartTime); err != nil {
				return err
			}
			if err := setBound(until, q.SetEndTime); err != nil {
				return err
			}
			for _, f := range fields {
				if err := q.SelectField(f); err != nil {
					return err
				}
			}

			w := ndjson.NewWriter(nopWriteCloser{cmd.OutOrStdout()})
			err = q.Each(ctx, timeout, func(res omnicas.QueryResult) error {
				return w.Encode(res)
			})
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&deleted, "deleted", false, "list deleted clips")
	cmd.Flags().BoolVar(&all, "all", false, "list existing and deleted clips")
	cmd.Flags().StringVar(&since, "since", "", "start time (RFC 3339 or cluster time)")
	cmd.Flags().StringVar(&until, "until", "", "end time (RFC 3339 or cluster time)")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "description attribute to include")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "wait for each result")
	return cmd
}

func setBound(value string, set func(time.Time) error) error {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		if t, err = omnicas.ParseClusterTime(value); err != nil {
			return err
		}
	}
	return set(t)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
