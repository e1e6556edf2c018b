// -- cmd/autofill.go --
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/automation"
	"github.com/ezmig/formpilot/internal/fieldmap"
	"github.com/ezmig/formpilot/internal/llm"
	"github.com/ezmig/formpilot/internal/matcher"
	"github.com/ezmig/formpilot/internal/observability"
)

var (
	autofillSchemaFile   string
	autofillDataFile     string
	autofillSnapshotFile string
	autofillTargetURL    string
	autofillUsername     string
	autofillPassword     string
)

var autofillCmd = &cobra.Command{
	Use:   "autofill",
	Short: "Map fields and drive a live browser through the fill pipeline, streaming events to stdout.",
	Long: `Maps the schema against the provided DOM snapshot, then launches a browser
and walks the full step pipeline (sign-in, CAPTCHA wait, navigation, field
filling). Progress events are written to stdout in SSE framing. The browser
is left open at the end for review; nothing is submitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		schema, data, err := loadSchemaAndData(autofillSchemaFile, autofillDataFile)
		if err != nil {
			return err
		}

		var snapshot schemas.DOMSnapshot
		if err := loadJSONFile(autofillSnapshotFile, &snapshot); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}

		router, err := llm.NewRouterFromConfig(appCfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("failed to build LLM router: %w", err)
		}
		defer router.Close()

		fields := fieldmap.Flatten(schema, data)

		var mappings []schemas.AIFieldMapping
		if snapshot.PageHTML != "" {
			mappings = matcher.NewFullPage(router, logger, appCfg.Mapping).
				Analyze(cmd.Context(), fields, snapshot, schema)
		} else {
			mappings = matcher.NewTiered(router, logger, appCfg.Mapping).
				Match(cmd.Context(), fields, snapshot)
		}
		if len(mappings) == 0 {
			return fmt.Errorf("no fields could be mapped against the snapshot")
		}

		engine := automation.NewEngine(appCfg, logger, nil)
		emitter := automation.NewSSEEmitter(os.Stdout, logger)
		defer emitter.Close()

		return engine.Run(cmd.Context(), automation.RunRequest{
			RunID:    "cli",
			FormCode: schema.Code,
			Mappings: mappings,
			Credentials: schemas.Credential{
				Username: autofillUsername,
				Password: autofillPassword,
			},
			TargetURL: autofillTargetURL,
		}, emitter)
	},
}

func init() {
	autofillCmd.Flags().StringVar(&autofillSchemaFile, "schema", "", "path to the form schema JSON (required)")
	autofillCmd.Flags().StringVar(&autofillDataFile, "data", "", "path to the form data JSON (required)")
	autofillCmd.Flags().StringVar(&autofillSnapshotFile, "snapshot", "", "path to the DOM snapshot JSON (required)")
	autofillCmd.Flags().StringVar(&autofillTargetURL, "form-url", "", "direct URL of the form page")
	autofillCmd.Flags().StringVar(&autofillUsername, "username", "", "USCIS account username (demo or empty: never submits)")
	autofillCmd.Flags().StringVar(&autofillPassword, "password", "", "USCIS account password")
	autofillCmd.MarkFlagRequired("schema")
	autofillCmd.MarkFlagRequired("data")
	autofillCmd.MarkFlagRequired("snapshot")
	rootCmd.AddCommand(autofillCmd)
}
