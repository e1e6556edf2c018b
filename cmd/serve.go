// -- cmd/serve.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/internal/automation"
	"github.com/ezmig/formpilot/internal/llm"
	"github.com/ezmig/formpilot/internal/matcher"
	"github.com/ezmig/formpilot/internal/observability"
	"github.com/ezmig/formpilot/internal/pdfmap"
	"github.com/ezmig/formpilot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API: mapping, autofill runs with SSE progress, and PDF filling.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		router, err := llm.NewRouterFromConfig(appCfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("failed to build LLM router: %w", err)
		}
		defer router.Close()

		cache, err := pdfmap.NewTemplateCache(
			appCfg.PDF.CacheTTL,
			appCfg.PDF.CacheCapacity,
			pdfmap.DirLoader(appCfg.PDF.TemplateDir),
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to build template cache: %w", err)
		}

		tiered := matcher.NewTiered(router, logger, appCfg.Mapping)
		fullPage := matcher.NewFullPage(router, logger, appCfg.Mapping)
		filler := pdfmap.NewFiller(cache, logger)
		engine := automation.NewEngine(appCfg, logger, nil)
		registry := automation.NewRegistry(engine, logger)

		handler := server.NewHandler(tiered, fullPage, filler, registry, logger)
		srv := server.New(appCfg.Server, handler, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			logger.Error("Server exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
