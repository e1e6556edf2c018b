// -- cmd/map.go --
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/fieldmap"
	"github.com/ezmig/formpilot/internal/llm"
	"github.com/ezmig/formpilot/internal/matcher"
	"github.com/ezmig/formpilot/internal/observability"
)

var (
	mapSchemaFile   string
	mapDataFile     string
	mapSnapshotFile string
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Resolve schema fields against a DOM snapshot and print the mappings as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		schema, data, err := loadSchemaAndData(mapSchemaFile, mapDataFile)
		if err != nil {
			return err
		}

		var snapshot schemas.DOMSnapshot
		if err := loadJSONFile(mapSnapshotFile, &snapshot); err != nil {
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

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mappings)
	},
}

func init() {
	mapCmd.Flags().StringVar(&mapSchemaFile, "schema", "", "path to the form schema JSON (required)")
	mapCmd.Flags().StringVar(&mapDataFile, "data", "", "path to the form data JSON (required)")
	mapCmd.Flags().StringVar(&mapSnapshotFile, "snapshot", "", "path to the DOM snapshot JSON (required)")
	mapCmd.MarkFlagRequired("schema")
	mapCmd.MarkFlagRequired("data")
	mapCmd.MarkFlagRequired("snapshot")
	rootCmd.AddCommand(mapCmd)
}

// loadSchemaAndData reads and boundary-validates the schema, then the data
// record.
func loadSchemaAndData(schemaPath, dataPath string) (*schemas.FormSchema, schemas.FormData, error) {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema: %w", err)
	}
	schema, err := schemas.ParseFormSchema(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid form schema: %w", err)
	}

	var data schemas.FormData
	if err := loadJSONFile(dataPath, &data); err != nil {
		return nil, nil, fmt.Errorf("failed to load form data: %w", err)
	}
	return schema, data, nil
}

func loadJSONFile(path string, target any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
