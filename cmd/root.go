// Package cmd defines the placecrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/app"
	"github.com/JakeFAU/placecrawler/internal/config"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates the root command with its persistent flags and
// subcommands. Flags override the config file and environment through v.
func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "placecrawler",
		Short: "A resumable crawler for map-search business listings.",
		Long: `placecrawler searches a map service for each query, collects the
listed businesses and extracts their contact details. Progress is
checkpointed per query, so an interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				if err := a.Close(); err != nil {
					a.Logger.Warn("error closing application services", zap.Error(err))
				}
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("checkpoint-backend", "", "checkpoint backend: local, memory or postgres")
	flags.String("checkpoint-dir", "", "directory for local checkpoints")
	flags.String("output-dir", "", "directory for exported files")
	bindFlags(v, flags, map[string]string{
		"logging.level":      "log-level",
		"checkpoint.backend": "checkpoint-backend",
		"checkpoint.dir":     "checkpoint-dir",
		"export.dir":         "output-dir",
	})

	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// bindFlags maps config keys onto flags. A flag only wins when it was set on
// the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
