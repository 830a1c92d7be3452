// Command formstore ingests, inspects and deletes form submissions.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFile    string
	backend    string
	boltPath   string
	dsn        string
	verbose    bool
	metrics    bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:          "formstore",
		Short:        "Store and inspect form submissions",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&g.envFile, "env-file", ".env", "file with FORMSTORE_* variables, empty to skip")
	pf.StringVar(&g.backend, "backend", "", "storage backend: bolt or postgres")
	pf.StringVar(&g.boltPath, "bolt-path", "", "Bolt database file")
	pf.StringVar(&g.dsn, "dsn", "", "Postgres connection string")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log every storage operation")
	pf.BoolVar(&g.metrics, "metrics", false, "print non-zero counters when done")

	root.AddCommand(
		newIngestCmd(&g),
		newShowCmd(&g),
		newResolveCmd(&g),
		newDeleteCmd(&g),
		newBlobCmd(&g),
	)
	return root
}

// run loads the configuration, applies flag overrides, opens the backend and
// calls f.
func (g *globalFlags) run(cmd *cobra.Command, f func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(g.configPath, g.envFile)
	if err != nil {
		return err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.boltPath != "" {
		cfg.BoltPath = g.boltPath
	}
	if g.dsn != "" {
		cfg.PostgresDSN = g.dsn
	}
	if g.verbose {
		cfg.Verbose = true
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := f(ctx, a); err != nil {
		return err
	}
	if g.metrics {
		return a.printMetrics(cmd.OutOrStdout())
	}
	return nil
}
