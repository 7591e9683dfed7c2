package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlsd-labs/evidence-cli/internal/model"
	"github.com/dlsd-labs/evidence-cli/internal/store"
	"github.com/dlsd-labs/evidence-cli/internal/workbook"
)

var (
	batchWorkbook string
	batchSheet    string
	batchOffset   int
	batchLimit    int
	batchDelayMS  int
	batchOutput   string
	batchDryRun   bool
	batchPublish  bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Research every ingredient in an XLSX workbook",
	Long: `Reads ingredient rows from a workbook, runs the research pipeline on
each one sequentially, and writes the evidence records to an output
workbook.

Rows are processed in sheet order with a configurable delay between
them so provider rate limits hold across long batches. A failed row
never aborts the batch; its record is written with whatever fields
were recovered.

Examples:
  # Parse the workbook and print rows, skip the pipeline
  evidence-cli batch --workbook ingredients.xlsx --dry-run

  # Resume a batch from row 50, processing 25 rows
  evidence-cli batch --workbook ingredients.xlsx --offset 50 --limit 25`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path := batchWorkbook
		if path == "" {
			path = cfg.Workbook.Path
		}
		if path == "" {
			return eris.New("batch: no workbook path given (flag --workbook or workbook.path)")
		}
		sheet := batchSheet
		if sheet == "" {
			sheet = cfg.Workbook.Sheet
		}

		// Flags win; unset flags fall back to config.
		if !cmd.Flags().Changed("offset") {
			batchOffset = cfg.Batch.Offset
		}
		if !cmd.Flags().Changed("limit") {
			batchLimit = cfg.Batch.Limit
		}
		if !cmd.Flags().Changed("delay-ms") && cfg.Batch.DelayMS > 0 {
			batchDelayMS = cfg.Batch.DelayMS
		}

		rows, err := workbook.ReadIngredients(path, workbook.Options{
			SheetName: sheet,
			SkipRows:  cfg.Workbook.SkipRows,
		})
		if err != nil {
			return eris.Wrap(err, "batch: read workbook")
		}
		zap.L().Info("workbook parsed", zap.Int("ingredients", len(rows)))

		rows = sliceRows(rows, batchOffset, batchLimit)

		if batchDryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return eris.Wrap(err, "batch: init pipeline")
		}
		defer env.Close()

		delay := time.Duration(batchDelayMS) * time.Millisecond
		records := make([]model.PublishedRecord, 0, len(rows))
		var succeeded, failed int

		for i, row := range rows {
			if i > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			zap.L().Info("processing ingredient",
				zap.Int("position", i+1),
				zap.Int("total", len(rows)),
				zap.Int("row", row.Row),
				zap.String("name", row.Name),
			)

			_, result := env.Pipeline.ProcessRun(ctx, row)
			if result.Error != "" {
				failed++
				zap.L().Error("batch: ingredient failed",
					zap.String("name", row.Name),
					zap.String("error", result.Error),
				)
			} else {
				succeeded++
			}
			records = append(records, result.Record)
		}

		zap.L().Info("batch complete",
			zap.Int("total", len(rows)),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)

		if batchPublish {
			if err := publishRecords(ctx, env.Store, records); err != nil {
				zap.L().Error("batch: publish records", zap.Error(err))
			}
		}

		outPath := batchOutput
		if outPath == "" {
			outPath = "evidence-records.xlsx"
		}
		if err := workbook.WriteRecords(outPath, "Records", records); err != nil {
			return eris.Wrap(err, "batch: write output workbook")
		}
		zap.L().Info("records written", zap.String("path", outPath))
		return nil
	},
}

func sliceRows(rows []model.IngredientRow, offset, limit int) []model.IngredientRow {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// publishRecords bulk-upserts finished records when the backing store
// supports it. SQLite batches stay local to the run history.
func publishRecords(ctx context.Context, st store.Store, records []model.PublishedRecord) error {
	pg, ok := st.(*store.PostgresStore)
	if !ok {
		zap.L().Debug("store does not support publishing, skipping")
		return nil
	}
	n, err := pg.UpsertPublishedRecords(ctx, records)
	if err != nil {
		return err
	}
	zap.L().Info("records published", zap.Int64("upserted", n))
	return nil
}

func init() {
	batchCmd.Flags().StringVar(&batchWorkbook, "workbook", "", "path to ingredient XLSX workbook")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "sheet name (default: first sheet)")
	batchCmd.Flags().IntVar(&batchOffset, "offset", 0, "skip this many ingredient rows")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max ingredients to process (0 = all)")
	batchCmd.Flags().IntVar(&batchDelayMS, "delay-ms", 1000, "pause between ingredients in milliseconds")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "output workbook path (default: evidence-records.xlsx)")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "parse workbook and print rows, skip pipeline")
	batchCmd.Flags().BoolVar(&batchPublish, "publish", false, "upsert finished records into the published_records table")
	rootCmd.AddCommand(batchCmd)
}
