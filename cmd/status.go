package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/placegrid/internal/checkpoint"
	"github.com/sells-group/placegrid/internal/search"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved state of a search run",
	Long:  "Reads the checkpoint selected by the same flags as search and reports whether the run is not started, interrupted or completed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		target, err := targetFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		return runStatus(cmd.Context(), os.Stdout, target)
	},
}

func init() {
	addTargetFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context, out io.Writer, target runTarget) error {
	slug := target.slug()
	store, err := checkpoint.Open(ctx, target.Driver, target.OutputDir, slug)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	state, status, err := search.Inspect(ctx, store)
	if err != nil {
		return err
	}
	var logs runLogs
	if state != nil {
		ids, err := store.LoadUniqueIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "status: load place ids")
		}
		refinements, err := store.LoadRefinements(ctx)
		if err != nil {
			return eris.Wrap(err, "status: load refinements")
		}
		logs = runLogs{PlaceIDs: len(ids), Refinements: len(refinements)}
	}
	formatStatus(out, slug, store.Location(), state, status, logs)
	return nil
}

// runLogs counts what the append-only logs hold. They can run ahead of the
// progress state when a run stopped between a log write and a checkpoint.
type runLogs struct {
	PlaceIDs    int
	Refinements int
}

func formatStatus(out io.Writer, slug, location string, state *search.ProgressState, status search.Status, logs runLogs) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "RUN\t%s\n", slug)
	_, _ = fmt.Fprintf(w, "STORE\t%s\n", location)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", strings.ToUpper(string(status)))
	if state != nil {
		_, _ = fmt.Fprintf(w, "RUN ID\t%s\n", shortUUID(state.RunID))
		_, _ = fmt.Fprintf(w, "AREA\t%s\n", state.Area.Name)
		_, _ = fmt.Fprintf(w, "CATEGORY\t%s\n", state.Category)
		_, _ = fmt.Fprintf(w, "COMPLETED POINTS\t%d\n", len(state.Completed))
		_, _ = fmt.Fprintf(w, "PENDING POINTS\t%d\n", len(state.Pending))
		_, _ = fmt.Fprintf(w, "QUERIES\t%d\n", state.QueryCount)
		_, _ = fmt.Fprintf(w, "UNIQUE PLACES\t%d\n", state.UniquePlaceCount)
		_, _ = fmt.Fprintf(w, "REFINEMENTS\t%d\n", state.RefinementCount)
		_, _ = fmt.Fprintf(w, "LOGGED PLACE IDS\t%d\n", logs.PlaceIDs)
		_, _ = fmt.Fprintf(w, "LOGGED REFINEMENTS\t%d\n", logs.Refinements)
		_, _ = fmt.Fprintf(w, "STARTED\t%s\n", state.StartedAt.Format(time.RFC3339))
		_, _ = fmt.Fprintf(w, "UPDATED\t%s\n", state.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
