package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/model"
)

var (
	runName     string
	runSynonyms []string
	runKingdom  string
	runLinks    []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Research a single ingredient and print the evidence record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		row := model.IngredientRow{
			Name:          runName,
			Synonyms:      runSynonyms,
			KingdomHint:   runKingdom,
			ExistingLinks: runLinks,
		}

		run, result := env.Pipeline.ProcessRun(ctx, row)

		logFields := []zap.Field{
			zap.String("ingredient", row.Name),
			zap.Float64("completion", result.Completion),
			zap.String("evidence_level", result.Record.EvidenceLevel),
		}
		if run != nil {
			logFields = append(logFields, zap.String("run_id", run.ID))
		}
		zap.L().Info("research complete", logFields...)

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "ingredient name as written on the label (required)")
	runCmd.Flags().StringSliceVar(&runSynonyms, "synonyms", nil, "alternative names for the ingredient")
	runCmd.Flags().StringVar(&runKingdom, "kingdom", "", "kingdom hint (plant, animal, mineral, ...)")
	runCmd.Flags().StringSliceVar(&runLinks, "links", nil, "known reference URLs to extract from first")
	_ = runCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(runCmd)
}
