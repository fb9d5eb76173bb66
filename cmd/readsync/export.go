package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/readsync/internal/export"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export highlights and notes to CSV",
	Example: `  readsync export --out highlights.csv
  readsync export --out - --limit 3
  readsync export --out highlights.csv --on-conflict rename`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportOut      string
	exportLimit    int
	exportConflict string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "",
		"Output CSV file, - for stdout (required)")
	exportCmd.Flags().IntVarP(&exportLimit, "limit", "n", 0,
		"Only export the N most recently updated books")
	exportCmd.Flags().StringVar(&exportConflict, "on-conflict", "overwrite",
		"What to do when the output file exists: overwrite, rename or error")

	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportLimit < 0 {
		return fmt.Errorf("%w: --limit must not be negative", models.ErrInvalidConfig)
	}
	strategy, err := storage.ParseConflictStrategy(exportConflict)
	if err != nil {
		return fmt.Errorf("%w: --on-conflict: %v", models.ErrInvalidConfig, err)
	}

	ctx := cmd.Context()

	books, err := apiClient.Books(ctx, exportLimit)
	if err != nil {
		return err
	}

	rows, err := export.Collect(ctx, apiClient.Reader, books)
	if err != nil {
		return err
	}

	if exportOut == "-" {
		return export.WriteCSV(os.Stdout, rows)
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		return err
	}

	store, err := storage.NewLocalStore(filepath.Dir(exportOut), logger)
	if err != nil {
		return err
	}
	store.SetConflictStrategy(strategy)

	written, err := store.WriteStream(filepath.Base(exportOut), &buf, 0644)
	if err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}

	report(map[string]interface{}{
		"success": true,
		"books":   len(books),
		"rows":    len(rows),
		"out":     written,
	}, "Exported %d row(s) from %d book(s) to %s", len(rows), len(books), written)
	return nil
}
