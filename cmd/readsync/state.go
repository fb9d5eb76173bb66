package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/readsync/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the local sync state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List synced books",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [book-id]",
	Short: "Forget what was pushed so the next sync rebuilds the page",
	Long: `Reset removes the stored state of one book, or of every book when no ID
is given. The next sync looks the page up again and rebuilds it.`,
	Example: `  readsync state reset 3300064831
  readsync state reset`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStateReset,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateResetCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	states, err := apiClient.State.ListStates()
	if err != nil {
		return err
	}
	now := time.Now()

	if jsonOutput {
		books := make([]map[string]interface{}, 0, len(states))
		for _, st := range states {
			books = append(books, map[string]interface{}{
				"book_id":        st.BookID,
				"title":          st.Title,
				"page_id":        st.PageID,
				"items":          st.ItemCount(),
				"last_sync_time": st.LastSyncTime,
				"last_error":     st.LastError,
			})
		}
		printJSON(map[string]interface{}{"success": true, "books": books})
		return nil
	}

	if len(states) == 0 {
		printInfo("No books synced yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BOOK\tTITLE\tITEMS\tLAST SYNC\tSTATUS")
	for _, st := range states {
		status := successColor.Sprint("ok")
		if st.HasError() {
			status = errorColor.Sprint("error: ") + truncate(st.LastError, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			st.BookID, truncate(st.Title, 40), st.ItemCount(), formatAge(state.Age(st, now)), status)
	}
	return w.Flush()
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := apiClient.State.Reset(args[0]); err != nil {
			return fmt.Errorf("reset %s: %w", args[0], err)
		}
		report(map[string]interface{}{"success": true, "reset": []string{args[0]}},
			"State for %s reset", args[0])
		return nil
	}

	n, err := apiClient.State.ResetAll()
	if err != nil {
		return err
	}
	report(map[string]interface{}{"success": true, "reset_count": n},
		"State for %d book(s) reset", n)
	return nil
}
