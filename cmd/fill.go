// -- cmd/fill.go --
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/internal/observability"
	"github.com/ezmig/formpilot/internal/pdfmap"
)

var (
	fillSchemaFile string
	fillDataFile   string
	fillOutputFile string
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill the form's PDF template from a schema and data record.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		schema, data, err := loadSchemaAndData(fillSchemaFile, fillDataFile)
		if err != nil {
			return err
		}

		cache, err := pdfmap.NewTemplateCache(
			appCfg.PDF.CacheTTL,
			appCfg.PDF.CacheCapacity,
			pdfmap.DirLoader(appCfg.PDF.TemplateDir),
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to build template cache: %w", err)
		}

		artifact, err := pdfmap.NewFiller(cache, logger).Fill(cmd.Context(), schema, data)
		if err != nil {
			return err
		}

		out := fillOutputFile
		if out == "" {
			out = schema.Code + "-filled.pdf"
		}
		if err := os.WriteFile(out, artifact.Bytes, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		logger.Info("Filled form written",
			zap.String("path", out),
			zap.Int("filled", artifact.Filled),
			zap.Int("skipped", artifact.Skipped))
		fmt.Printf("%s: %d fields filled, %d skipped\n", out, artifact.Filled, artifact.Skipped)
		return nil
	},
}

func init() {
	fillCmd.Flags().StringVar(&fillSchemaFile, "schema", "", "path to the form schema JSON (required)")
	fillCmd.Flags().StringVar(&fillDataFile, "data", "", "path to the form data JSON (required)")
	fillCmd.Flags().StringVarP(&fillOutputFile, "output", "o", "", "output path (default <code>-filled.pdf)")
	fillCmd.MarkFlagRequired("schema")
	fillCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(fillCmd)
}
