package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/youruser/pairprog/internal/config"
	"github.com/youruser/pairprog/internal/diff"
	"github.com/youruser/pairprog/internal/document"
	"github.com/youruser/pairprog/internal/llm"
	"github.com/youruser/pairprog/internal/metrics"
	"github.com/youruser/pairprog/internal/panel"
	"github.com/youruser/pairprog/internal/session"
)

func newWatchCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and review changes in a browser panel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			var (
				cfg *config.Config
				err error
			)
			if cfgPath != "" {
				cfg, err = config.LoadFrom(cfgPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Panel.Addr = addr
			}
			return runWatch(cmd.Context(), cfg, root, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/pairprog/config.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "panel listen address (overrides panel.addr)")
	return cmd
}

// runWatch runs a session over the files under root until ctx is
// cancelled.
func runWatch(ctx context.Context, cfg *config.Config, root string, out io.Writer) error {
	logger := pslog.Ctx(ctx)

	algo, err := diff.ParseAlgorithm(cfg.DiffAlgorithm)
	if err != nil {
		return err
	}
	provider, err := llm.NewProvider(cfg.Provider, llm.ProviderConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		return err
	}
	renderer, err := panel.NewRenderer()
	if err != nil {
		return err
	}

	dir, err := document.NewDir(root, cfg.Watch.Ignore)
	if err != nil {
		return err
	}
	defer dir.Close()
	if err := dir.Start(ctx); err != nil {
		return err
	}

	m := metrics.New()
	web := panel.NewWebHost(panel.WebOptions{
		Addr:     cfg.Panel.Addr,
		Gatherer: m.Registry(),
		Out:      out,
	})

	ctrl := session.New(session.Options{
		Documents: dir,
		Models: llm.NewClient(provider, llm.Options{
			Family:  cfg.ModelFamily,
			Budget:  cfg.ContextTokenBudget,
			Timeout: cfg.RequestTimeout(),
		}),
		Panels: panel.NewManager(web, renderer, cfg.Panel.Title, panel.WithLive()),
		Notifier: session.NotifierFunc(func(level session.Level, message string) {
			fmt.Fprintf(out, "[%s] %s\n", level, message)
			logger.Info("notice", "level", string(level), "message", message)
		}),
		QuietPeriod:        cfg.QuietPeriod(),
		Algorithm:          algo,
		ContextLines:       cfg.DiffContextLines,
		CustomInstructions: cfg.CustomInstructions,
		Metrics:            m,
		Logger:             logger,
	})
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Deactivate(ctx)

	logger.Info("watching", "root", dir.Root(), "files", len(dir.List()), "addr", cfg.Panel.Addr)
	if err := web.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
