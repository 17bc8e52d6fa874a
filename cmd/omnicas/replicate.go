package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grokify/omnicas/engine/sim"
	"github.com/grokify/omnicas/store"
)

func (a *app) replicateCmd() *cobra.Command {
	var (
		opts     sim.ReplicateOptions
		checksum string
	)
	cmd := &cobra.Command{
		Use:   "replicate <addr>",
		Short: "Copy what the cluster at addr holds and its replica lacks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch t := store.HashType(checksum); t {
			case store.HashMD5, store.HashSHA256, store.HashBLAKE3:
				opts.Checksum = t
			default:
				return fmt.Errorf("unknown checksum %q (md5, sha256, blake3)", checksum)
			}
			engine, ok := a.session.Engine().(*sim.Engine)
			if !ok {
				return fmt.Errorf("replicate needs the sim engine, not %s", a.cfg.Engine.Name)
			}
			result, err := engine.Replicate(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verb := "copied"
			if result.DryRun {
				verb = "would copy"
			}
			fmt.Fprintf(out, "%s %d objects (%s), skipped %d in %s\n",
				verb, len(result.Copied), humanize.IBytes(uint64(result.BytesTransferred)),
				result.Skipped, result.Duration.Round(time.Millisecond))
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", e.Path, e.Err)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d objects failed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be copied")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify copies by hash")
	cmd.Flags().StringVar(&checksum, "checksum", "md5", "digest compared by --verify: md5, sha256 or blake3")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "parallel copies")
	cmd.Flags().Int64Var(&opts.BandwidthLimit, "bwlimit", 0, "bytes per second, 0 for unlimited")
	return cmd
}
