package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/checkpoint"
	"github.com/sells-group/placegrid/internal/config"
	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/search"
	"github.com/sells-group/placegrid/pkg/google"
)

// tuneSweep is the parameter grid compared by tune. Every combination runs
// against a throwaway checkpoint capped at SampleCalls point queries.
type tuneSweep struct {
	Radii         []float64
	Thresholds    []int
	RadiusFactors []float64
	SampleCalls   int
}

type tuneResult struct {
	Radius       float64
	Threshold    int
	RadiusFactor float64
	Queries      int
	APIRequests  int
	UniquePlaces int
	Refinements  int
	Elapsed      time.Duration
}

func (r tuneResult) placesPerQuery() float64 {
	if r.Queries == 0 {
		return 0
	}
	return float64(r.UniquePlaces) / float64(r.Queries)
}

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Compare grid parameters on a capped sample of an area",
	Long: "Runs the adaptive search once per combination of initial radius, subdivision threshold and " +
		"radius factor, each capped at --sample-calls point queries, and prints the combinations ranked " +
		"by query cost and by places found. Checkpoints go to a temporary directory and are discarded.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		target, err := targetFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(target.mode()); err != nil {
			return err
		}

		var sweep tuneSweep
		sweep.Radii, _ = cmd.Flags().GetFloat64Slice("radii")
		sweep.Thresholds, _ = cmd.Flags().GetIntSlice("thresholds")
		sweep.RadiusFactors, _ = cmd.Flags().GetFloat64Slice("radius-factors")
		sweep.SampleCalls, _ = cmd.Flags().GetInt("sample-calls")

		_, err = runTune(ctx, os.Stdout, cfg, newPlacesClient(cfg, target.DryRun), target, sweep)
		return err
	},
}

func init() {
	addTargetFlags(tuneCmd)
	tuneCmd.Flags().Float64Slice("radii", []float64{300, 500, 750}, "initial radii to compare, in metres")
	tuneCmd.Flags().IntSlice("thresholds", []int{45, 50, 55}, "subdivision thresholds to compare")
	tuneCmd.Flags().Float64Slice("radius-factors", []float64{2.5, 3, 4}, "refinement radius factors to compare")
	tuneCmd.Flags().Int("sample-calls", 30, "point queries allowed per combination")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(ctx context.Context, out io.Writer, c *config.Config, client google.Client, target runTarget, sweep tuneSweep) ([]tuneResult, error) {
	if len(sweep.Radii) == 0 || len(sweep.Thresholds) == 0 || len(sweep.RadiusFactors) == 0 {
		return nil, eris.New("tune: radii, thresholds and radius factors must each have a value")
	}
	if sweep.SampleCalls <= 0 {
		return nil, eris.New("tune: sample calls must be positive")
	}
	log := zap.L().With(zap.String("command", "tune"), zap.String("mode", target.mode()))

	area, err := target.area(ctx, client)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "placegrid-tune-*")
	if err != nil {
		return nil, eris.Wrap(err, "tune: create temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	// Keep the configured step-to-radius ratio as the radius changes.
	base := c.GridConfig()
	stepRatio := base.Step / base.InitialRadius

	var results []tuneResult
	for _, radius := range sweep.Radii {
		for _, threshold := range sweep.Thresholds {
			for _, factor := range sweep.RadiusFactors {
				if ctx.Err() != nil {
					log.Warn("tune interrupted", zap.Int("completed", len(results)))
					printTune(out, area, sweep, results)
					return results, nil
				}
				gc := base
				gc.InitialRadius = radius
				gc.Step = radius * stepRatio
				gc.Threshold = threshold
				gc.RadiusFactor = factor

				res, err := tuneOnce(ctx, c, client, target, area, gc, sweep.SampleCalls, tmp)
				if err != nil {
					return results, err
				}
				log.Info("combination done",
					zap.Float64("radius", radius),
					zap.Int("threshold", threshold),
					zap.Float64("radius_factor", factor),
					zap.Int("queries", res.Queries),
					zap.Int("unique_places", res.UniquePlaces),
				)
				results = append(results, res)
			}
		}
	}

	printTune(out, area, sweep, results)
	return results, nil
}

func tuneOnce(ctx context.Context, c *config.Config, client google.Client, target runTarget, area grid.SearchArea, gc grid.Config, sample int, dir string) (tuneResult, error) {
	res := tuneResult{Radius: gc.InitialRadius, Threshold: gc.Threshold, RadiusFactor: gc.RadiusFactor}

	slug := fmt.Sprintf("tune_r%.0f_t%d_f%.2f", gc.InitialRadius, gc.Threshold, gc.RadiusFactor)
	store, err := checkpoint.Open(ctx, checkpoint.DriverFile, dir, slug)
	if err != nil {
		return res, err
	}
	defer store.Close() //nolint:errcheck

	tracker, err := search.NewTracker(store, gc)
	if err != nil {
		return res, eris.Wrap(err, "tune")
	}

	places := target.places(c, client)

	orch := search.NewOrchestrator(tracker, places.Query)
	sum, err := orch.Run(ctx, area, target.category(), search.Budget{MaxCalls: sample})
	if err != nil {
		return res, eris.Wrap(err, "tune")
	}
	res.Queries = sum.QueriesIssued
	res.APIRequests = places.Calls()
	res.UniquePlaces = sum.UniquePlaces
	res.Refinements = sum.Refinements
	res.Elapsed = sum.Elapsed
	return res, nil
}

// bestTune returns the combination with the most places per query.
func bestTune(results []tuneResult) (tuneResult, bool) {
	var best tuneResult
	found := false
	for _, r := range results {
		if r.Queries == 0 {
			continue
		}
		if !found || r.placesPerQuery() > best.placesPerQuery() {
			best, found = r, true
		}
	}
	return best, found
}

func printTune(out io.Writer, area grid.SearchArea, sweep tuneSweep, results []tuneResult) {
	_, _ = fmt.Fprintf(out, "Parameter comparison for %s (sample of %d point queries per combination)\n", area.Name, sweep.SampleCalls)

	byQueries := slices.Clone(results)
	slices.SortStableFunc(byQueries, func(a, b tuneResult) int { return a.Queries - b.Queries })
	_, _ = fmt.Fprintln(out, "\nBy query cost:")
	writeTuneTable(out, byQueries)

	byPlaces := slices.Clone(results)
	slices.SortStableFunc(byPlaces, func(a, b tuneResult) int { return b.UniquePlaces - a.UniquePlaces })
	_, _ = fmt.Fprintln(out, "\nBy places found:")
	writeTuneTable(out, byPlaces)

	if best, ok := bestTune(results); ok {
		_, _ = fmt.Fprintf(out, "\nMost efficient: radius=%.0fm threshold=%d radius_factor=%.1f\n", best.Radius, best.Threshold, best.RadiusFactor)
		_, _ = fmt.Fprintf(out, "Found %d places with %d queries (%.2f places per query)\n", best.UniquePlaces, best.Queries, best.placesPerQuery())
	}
}

func writeTuneTable(out io.Writer, results []tuneResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RADIUS\tTHRESHOLD\tFACTOR\tQUERIES\tAPI REQUESTS\tPLACES\tREFINEMENTS\tELAPSED")
	_, _ = fmt.Fprintln(w, "------\t---------\t------\t-------\t------------\t------\t-----------\t-------")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%.0f\t%d\t%.1f\t%d\t%d\t%d\t%d\t%s\n",
			r.Radius, r.Threshold, r.RadiusFactor, r.Queries, r.APIRequests, r.UniquePlaces, r.Refinements,
			r.Elapsed.Round(time.Millisecond))
	}
	_ = w.Flush()
}
