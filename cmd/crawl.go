package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type crawlOptions struct {
	file        string
	interactive bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl [queries...]",
		Short: "Crawl listings for one or more search queries",
		Long: `Runs each query in turn: discover the listed businesses, extract
their details in small concurrent batches and checkpoint progress. Queries
come from arguments, a file (one per line) or interactive input.

While running, type p (pause/resume), r (resume), s (save) or q (quit) and
press enter. Ctrl-C stops after the in-flight items; a second Ctrl-C aborts
them. Rerunning the same queries resumes from their checkpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "read queries from a file, one per line")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "type queries; two empty lines finish")
	flags.Int("concurrency", 0, "items extracted in parallel per batch")
	flags.Int("max-items", 0, "listings to collect per query (0 = all found)")
	flags.Bool("headless", true, "run Chrome without a window")
	flags.String("api-addr", "", "serve the operator API on this address")
	flags.StringSlice("format", nil, "export formats: json, xlsx")
	bindFlags(v, flags, map[string]string{
		"crawler.concurrency": "concurrency",
		"browser.max_items":   "max-items",
		"browser.headless":    "headless",
		"control.addr":        "api-addr",
		"export.formats":      "format",
	})
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, opts crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	queries, err := collectQueries(args, opts, in, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return errors.New("no queries given; pass them as arguments, with --file or --interactive")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a.Source(in, cancel).Start(ctx)

	apiDone := make(chan error, 1)
	go func() { apiDone <- a.ServeAPI(ctx) }()

	summary, runErr := a.Runner.Run(ctx, queries)
	cancel()
	if err := <-apiDone; err != nil {
		a.Logger.Warn("operator api stopped with error", zap.Error(err))
	}

	renderSummary(cmd.OutOrStdout(), summary)
	if runErr != nil {
		return fmt.Errorf("run crawl: %w", runErr)
	}
	if a.Control.QuitRequested() {
		a.Logger.Info("crawl stopped early; rerun the same queries to resume from checkpoints")
	}
	return nil
}
