package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push new highlights and notes to Notion",
	Long: `Sync fetches the session cookies, lists your notebooks and pushes every
highlight and note not yet recorded in the local state to the book's Notion page.

The sync is incremental by default. Use --full to rebuild the selected pages.
With --watermark, books that have no local state and whose sort key is not
above the newest page already in the database are left alone.`,
	Example: `  readsync sync
  readsync sync --limit 5
  readsync sync --book 3300064831 --full
  readsync sync --dry-run --json
  readsync sync --watermark`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncLimit  int
	syncBooks  []string
	syncFull   bool
	syncDryRun bool
	syncMark   bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().IntVarP(&syncLimit, "limit", "n", 0,
		"Only sync the N most recently updated books (default: sync.book_limit)")
	syncCmd.Flags().StringSliceVarP(&syncBooks, "book", "b", nil,
		"Only sync this book ID (repeatable)")
	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Rebuild pages instead of appending new items")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false,
		"Show what would be pushed without writing")
	syncCmd.Flags().BoolVar(&syncMark, "watermark", false,
		"Skip untracked books at or below the highest Sort in the database")
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncLimit < 0 {
		return fmt.Errorf("%w: --limit must not be negative", models.ErrInvalidConfig)
	}
	if err := cfg.RequireCookieSync(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := cfg.RequireNotion(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nSync interrupted, cancelling...")
			apiClient.Sync.Cancel()
		case <-ctx.Done():
		}
	}()

	opts := sync.Options{
		BookLimit: syncLimit,
		BookIDs:   syncBooks,
		Full:      syncFull,
		DryRun:    syncDryRun,
		Watermark: syncMark,
	}

	if jsonOutput {
		return runSyncJSON(ctx, opts)
	}
	return runSyncInteractive(ctx, opts)
}

func runSyncInteractive(ctx context.Context, opts sync.Options) error {
	progress := NewProgressDisplay()
	verb := "pushed"
	if opts.DryRun {
		verb = "would push"
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range apiClient.Sync.Events() {
			switch event.Type {
			case sync.EventStarted:
				progress.SetPhase("Loading session...")

			case sync.EventBookStarted:
				if p := apiClient.Sync.GetProgress(); p != nil {
					progress.Update(p.ProcessedBooks+1, p.TotalBooks, event.Book.Title)
				}

			case sync.EventBookComplete:
				progress.Note(fmt.Sprintf("%s %s: %d item(s) %s",
					successColor.Sprint("✓"), event.Book.Title, event.Items, verb))

			case sync.EventBookSkipped:
				logger.WithField("book_id", event.Book.BookID).Debug("Book unchanged")

			case sync.EventBookError:
				progress.AddError(fmt.Sprintf("%s: %v", event.Book.Title, event.Error))

			case sync.EventCompleted:
				progress.SetPhase("Completed")

			case sync.EventFailed:
				progress.SetPhase("Failed")
			}
		}
	}()

	startTime := time.Now()
	summary, err := apiClient.RunSync(ctx, opts)
	<-done
	progress.Close()

	if summary != nil {
		fmt.Printf("\nSync Summary:\n")
		fmt.Printf("   Books:    %d (%d synced, %d unchanged, %d failed)\n",
			summary.Books, summary.Synced, summary.Skipped, summary.Failed)
		fmt.Printf("   Items %s: %d\n", verb, summary.Items)
		fmt.Printf("   Duration: %s\n", time.Since(startTime).Round(time.Millisecond))
	}

	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		printWarning("\nSync finished with %d failed book(s); they will be retried next run", summary.Failed)
		return nil
	}

	printSuccess("\nSync completed successfully!")
	return nil
}

func runSyncJSON(ctx context.Context, opts sync.Options) error {
	var events []map[string]interface{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range apiClient.Sync.Events() {
			eventData := map[string]interface{}{
				"type":      event.Type,
				"timestamp": event.Timestamp,
			}
			if event.Book != nil {
				eventData["book_id"] = event.Book.BookID
				eventData["title"] = event.Book.Title
			}
			if event.Type == sync.EventBookComplete {
				eventData["items"] = event.Items
			}
			if event.Error != nil {
				eventData["error"] = event.Error.Error()
			}
			events = append(events, eventData)
		}
	}()

	summary, err := apiClient.RunSync(ctx, opts)
	<-done

	result := map[string]interface{}{
		"success": err == nil,
		"dry_run": opts.DryRun,
		"events":  events,
	}
	if summary != nil {
		result["summary"] = map[string]interface{}{
			"books":       summary.Books,
			"synced":      summary.Synced,
			"skipped":     summary.Skipped,
			"failed":      summary.Failed,
			"items":       summary.Items,
			"duration_ms": summary.Duration.Milliseconds(),
		}
	}
	if err != nil {
		result["error"] = err.Error()
	}

	printJSON(result)
	if err != nil {
		return reported{err}
	}
	return nil
}
