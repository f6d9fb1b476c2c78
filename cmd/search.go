package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/checkpoint"
	"github.com/sells-group/placegrid/internal/config"
	"github.com/sells-group/placegrid/internal/coverage"
	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/search"
	"github.com/sells-group/placegrid/internal/transport"
	"github.com/sells-group/placegrid/pkg/google"
)

// searchOptions are the per-invocation switches that are not part of the
// run's identity.
type searchOptions struct {
	MaxCalls    int
	Visualize   bool
	Fresh       bool
	MetricsFile string
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search an area for places with adaptive refinement",
	Long: "Queries a grid of points over the area, subdivides points whose result count hits the threshold " +
		"and records every unique place id. Progress is checkpointed after each point; rerunning the " +
		"same command resumes where the previous run stopped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		target, err := targetFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-calls") {
			cfg.Search.MaxCalls, _ = cmd.Flags().GetInt("max-calls")
		}
		if err := cfg.Validate(target.mode()); err != nil {
			return err
		}

		opts := searchOptions{MaxCalls: cfg.Search.MaxCalls}
		opts.Visualize, _ = cmd.Flags().GetBool("visualize")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")
		opts.MetricsFile, _ = cmd.Flags().GetString("metrics-file")

		return runSearch(ctx, os.Stdout, cfg, newPlacesClient(cfg, target.DryRun), target, opts)
	},
}

func init() {
	addTargetFlags(searchCmd)
	searchCmd.Flags().Int("max-calls", 0, "stop after this many grid point queries (0 = unlimited)")
	searchCmd.Flags().Bool("visualize", false, "write an HTML coverage map and its snapshot data")
	searchCmd.Flags().Bool("fresh", false, "move the saved run aside and start over")
	searchCmd.Flags().String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	rootCmd.AddCommand(searchCmd)
}

// newPlacesClient returns the live Maps client or the offline dry-run provider.
func newPlacesClient(c *config.Config, dryRun bool) google.Client {
	if dryRun {
		return transport.NewDryRun(c.Search.PlaceType)
	}
	return google.NewClient(c.Google.Key,
		google.WithBaseURL(c.Google.BaseURL),
		google.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Google.TimeoutSecs) * time.Second}),
		google.WithRateLimit(c.Google.RateLimit),
		google.WithRetry(c.RetryPolicy()),
	)
}

func runSearch(ctx context.Context, out io.Writer, c *config.Config, client google.Client, target runTarget, opts searchOptions) error {
	log := zap.L().With(zap.String("command", "search"), zap.String("mode", target.mode()))

	area, err := target.area(ctx, client)
	if err != nil {
		return err
	}
	log.Info("search area",
		zap.String("area", area.Name),
		zap.Float64("south", area.Bound.Min.Lat()),
		zap.Float64("west", area.Bound.Min.Lon()),
		zap.Float64("north", area.Bound.Max.Lat()),
		zap.Float64("east", area.Bound.Max.Lon()),
	)

	if err := os.MkdirAll(target.OutputDir, 0o755); err != nil {
		return eris.Wrap(err, "search: create output dir")
	}
	slug := target.slug()
	store, err := checkpoint.Open(ctx, target.Driver, target.OutputDir, slug)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if opts.Fresh {
		if err := store.Reset(ctx); err != nil {
			return eris.Wrap(err, "search: reset saved run")
		}
		log.Info("previous run moved aside", zap.String("slug", slug))
	}

	tracker, err := search.NewTracker(store, c.GridConfig())
	if err != nil {
		return err
	}

	places := target.places(c, client)

	reg := prometheus.NewRegistry()
	orch := search.NewOrchestrator(tracker, places.Query, search.WithMetrics(search.NewMetrics(reg)))

	sum, runErr := orch.Run(ctx, area, target.category(), search.Budget{MaxCalls: opts.MaxCalls})
	if sum != nil {
		printSummary(out, sum, places.Calls(), store.Location())
	}
	if runErr != nil {
		return eris.Wrap(runErr, "search")
	}

	// An interrupted run still gets its map and metrics.
	post := context.WithoutCancel(ctx)
	if opts.Visualize {
		html, data, err := writeRunMap(post, store, area, target, slug, time.Now())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Map written to %s\nMap data written to %s\n", html, data)
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return eris.Wrap(err, "search: write metrics file")
		}
	}
	return nil
}

// writeRunMap renders the run's query log as an HTML map plus the snapshot
// JSON that combine accepts.
func writeRunMap(ctx context.Context, store search.Store, area grid.SearchArea, target runTarget, slug string, now time.Time) (string, string, error) {
	records, err := store.LoadResults(ctx)
	if err != nil {
		return "", "", eris.Wrap(err, "search: load results for map")
	}

	label := fmt.Sprintf("%s in %s", target.category(), area.Name)
	snap := coverage.FromRecords(label, area, records, now)

	stamp := now.Format("20060102_150405")
	dataPath := filepath.Join(target.OutputDir, fmt.Sprintf("map_data_%s_%s.json", slug, stamp))
	htmlPath := filepath.Join(target.OutputDir, fmt.Sprintf("map_%s_%s.html", slug, stamp))

	if err := coverage.Save(dataPath, snap); err != nil {
		return "", "", err
	}
	if err := renderFile(htmlPath, snap); err != nil {
		return "", "", err
	}
	return htmlPath, dataPath, nil
}

func renderFile(path string, snap *coverage.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create map %s", path)
	}
	if err := coverage.Render(f, snap); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close map %s", path)
	}
	return nil
}

func printSummary(out io.Writer, sum *search.RunSummary, apiRequests int, location string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "--- Search Statistics ---")
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", sum.Status)
	_, _ = fmt.Fprintf(w, "Resumed:\t%t\n", sum.Resumed)
	_, _ = fmt.Fprintf(w, "Points processed:\t%d\n", sum.PointsCompleted)
	_, _ = fmt.Fprintf(w, "Queries issued:\t%d (%d API requests)\n", sum.QueriesIssued, apiRequests)
	_, _ = fmt.Fprintf(w, "Failed queries:\t%d\n", sum.Failures)
	_, _ = fmt.Fprintf(w, "Refinements:\t%d\n", sum.Refinements)
	_, _ = fmt.Fprintf(w, "Near limit:\t%d\n", sum.NearLimit)
	_, _ = fmt.Fprintf(w, "New places:\t%d\n", sum.NewPlaces)
	_, _ = fmt.Fprintf(w, "Unique places:\t%d\n", sum.UniquePlaces)
	_, _ = fmt.Fprintf(w, "Pending points:\t%d\n", sum.Pending)
	_, _ = fmt.Fprintf(w, "Total queries (all sessions):\t%d\n", sum.TotalQueries)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", sum.Elapsed.Round(time.Second))
	_, _ = fmt.Fprintf(w, "Saved to:\t%s\n", location)
	if sum.BudgetExhausted {
		_, _ = fmt.Fprintln(w, "Query budget exhausted; rerun to continue.")
	}
	if sum.Interrupted {
		_, _ = fmt.Fprintln(w, "Interrupted; rerun to resume.")
	}
	_ = w.Flush()
}
