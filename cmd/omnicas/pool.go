package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grokify/omnicas"
)

func (a *app) poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the pool",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Print cluster information",
			Args:  cobra.NoArgs,
			RunE:  a.poolInfo,
		},
		&cobra.Command{
			Use:   "capabilities",
			Short: "Print the pool's capabilities",
			Args:  cobra.NoArgs,
			RunE:  a.poolCapabilities,
		},
	)
	return cmd
}

func (a *app) poolInfo(cmd *cobra.Command, args []string) error {
	pool, err := a.openPool(cmd.Context())
	if err != nil {
		return err
	}
	info, err := pool.Info()
	if err != nil {
		return err
	}
	now, err := pool.ClusterTime()
	if err != nil {
		return err
	}
	sdk, err := a.session.SDKVersion()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Cluster\t%s (%s)\n", info.ClusterName, info.ClusterID)
	fmt.Fprintf(w, "Version\t%s\n", info.Version)
	fmt.Fprintf(w, "SDK\t%s\n", sdk)
	fmt.Fprintf(w, "Capacity\t%s\n", humanize.IBytes(uint64(info.Capacity)))
	fmt.Fprintf(w, "Free\t%s\n", humanize.IBytes(uint64(max(info.FreeSpace, 0))))
	if info.ReplicaAddress != "" {
		fmt.Fprintf(w, "Replica\t%s\n", info.ReplicaAddress)
	}
	fmt.Fprintf(w, "Time\t%s\n", omnicas.FormatClusterTime(now))
	return w.Flush()
}

func (a *app) poolCapabilities(cmd *cobra.Command, args []string) error {
	pool, err := a.openPool(cmd.Context())
	if err != nil {
		return err
	}
	c, err := pool.Capabilities()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	row := func(name string, v any) { fmt.Fprintf(w, "%s\t%v\n", name, v) }
	row("read", c.ReadAllowed)
	row("write", c.WriteAllowed)
	row("delete", c.DeleteAllowed)
	row("privileged-delete", c.PrivilegedDeleteAllowed)
	row("exist", c.ExistAllowed)
	row("clip-enumeration", c.ClipEnumerationAllowed)
	row("deletion-logging", c.DeletionsLogged)
	row("blob-naming", strings.Join(c.BlobNamingSchemes, ","))
	row("compliance-mode", c.ComplianceMode)
	row("event-based-retention", c.EBRSupported)
	row("retention-hold", c.HoldAllowed)
	row("retention-default", formatPeriod(c.RetentionDefault))
	if c.RetentionMinMax {
		row("fixed-retention", formatPeriod(c.FixedRetentionMin)+" .. "+formatPeriod(c.FixedRetentionMax))
		row("variable-retention", formatPeriod(c.VariableRetentionMin)+" .. "+formatPeriod(c.VariableRetentionMax))
	}
	return w.Flush()
}

func formatPeriod(d time.Duration) string {
	switch d {
	case omnicas.RetentionInfinite:
		return "infinite"
	case omnicas.RetentionDefault:
		return "default"
	case 0:
		return "none"
	}
	return d.String()
}
