package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/config"
)

// app holds the state shared by subcommands for one invocation.
type app struct {
	configPath string
	poolAddr   string

	cfg      *config.Config
	logger   *slog.Logger
	logClose io.Closer
	session  *omnicas.Session
	pool     *omnicas.Pool
}

func run(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "omnicas",
		Short:        "`omnicas` stores and retrieves clips in a fixed-content pool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVarP(&a.poolAddr, "pool", "p", "", "pool connection string (default: first configured cluster)")

	root.AddCommand(
		a.poolCmd(),
		a.clipCmd(),
		a.queryCmd(),
		a.retentionCmd(),
		a.replicateCmd(),
	)
	return root
}

func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.logger, a.logClose = logger, closer

	sess, err := cfg.Open(logger)
	if err != nil {
		return fmt.Errorf("open %s engine: %w", cfg.Engine.Name, err)
	}
	a.session = sess
	return nil
}

// openPool opens the pool named by --pool, or the first cluster.
func (a *app) openPool(ctx context.Context) (*omnicas.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	conn := a.poolAddr
	if conn == "" {
		if len(a.cfg.Clusters) == 0 {
			return nil, errors.New("no --pool given and no clusters configured")
		}
		conn = a.cfg.Clusters[0].Address
	}
	pool, err := a.session.OpenPool(ctx, conn)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

func (a *app) close() error {
	var err error
	if a.session != nil {
		err = a.session.Close()
		a.session = nil
	}
	if a.logClose != nil {
		_ = a.logClose.Close()
		a.logClose = nil
	}
	return err
}
