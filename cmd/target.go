package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/placegrid/internal/checkpoint"
	"github.com/sells-group/placegrid/internal/config"
	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/transport"
	"github.com/sells-group/placegrid/pkg/google"
)

// allAreas selects the geocoded location instead of a named test area.
const allAreas = "all"

// runTarget identifies one run: what is searched, where, and where its
// checkpoint lives.
type runTarget struct {
	PlaceType string
	Keyword   string
	Location  string
	TestArea  string
	AreaFile  string
	DryRun    bool
	OutputDir string
	Driver    string
}

// addTargetFlags registers the flags that select a run.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "use synthetic responses instead of the Places API")
	cmd.Flags().String("test-area", "", "named test area ("+strings.Join(grid.TestAreaNames(), ", ")+", or all)")
	cmd.Flags().String("area-file", "", "GeoJSON polygon to search instead of the location or a test area")
	cmd.Flags().String("place-type", "", "place type to search (default from config)")
	cmd.Flags().String("keyword", "", "free-text keyword that narrows the place type (default from config)")
	cmd.Flags().String("location", "", "location to geocode when no test area is given (default from config)")
	cmd.Flags().String("output-dir", "", "directory for progress, results and maps (default from config)")
	cmd.Flags().String("store", "", "checkpoint backend: file or sqlite (default from config)")
}

// targetFromFlags applies explicitly set flags on top of c and returns the
// selected run.
func targetFromFlags(cmd *cobra.Command, c *config.Config) (runTarget, error) {
	f := cmd.Flags()
	if f.Changed("place-type") {
		c.Search.PlaceType, _ = f.GetString("place-type")
	}
	if f.Changed("keyword") {
		c.Search.Keyword, _ = f.GetString("keyword")
	}
	if f.Changed("location") {
		c.Search.Location, _ = f.GetString("location")
	}
	if f.Changed("output-dir") {
		c.Search.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("store") {
		c.Store.Driver, _ = f.GetString("store")
	}

	t := runTarget{
		PlaceType: c.Search.PlaceType,
		Keyword:   strings.TrimSpace(c.Search.Keyword),
		Location:  c.Search.Location,
		OutputDir: c.Search.OutputDir,
		Driver:    c.Store.Driver,
	}
	t.DryRun, _ = f.GetBool("dry-run")
	t.TestArea, _ = f.GetString("test-area")
	t.AreaFile, _ = f.GetString("area-file")

	if t.AreaFile != "" && t.TestArea != "" {
		return runTarget{}, eris.New("search: --area-file and --test-area are mutually exclusive")
	}

	if t.TestArea != "" && t.TestArea != allAreas {
		if _, err := grid.TestArea(t.TestArea); err != nil {
			return runTarget{}, err
		}
	}
	return t, nil
}

func (t runTarget) mode() string {
	if t.DryRun {
		return config.ModeDryRun
	}
	return config.ModeLive
}

func (t runTarget) usesTestArea() bool {
	return t.TestArea != "" && t.TestArea != allAreas
}

// category is what the run searches for: the place type, narrowed by the
// keyword when one is set.
func (t runTarget) category() string {
	if t.Keyword == "" {
		return t.PlaceType
	}
	return t.PlaceType + " (" + t.Keyword + ")"
}

// places returns the per-point query adapter for the run.
func (t runTarget) places(c *config.Config, client google.Client) *transport.Places {
	pageDelay := time.Duration(c.Google.PageDelayMs) * time.Millisecond
	if t.DryRun {
		pageDelay = 0
	}
	opts := []transport.PlacesOption{
		transport.WithMaxPages(c.Google.MaxPages),
		transport.WithPageDelay(pageDelay),
	}
	if t.Keyword != "" {
		opts = append(opts, transport.WithKeyword(t.Keyword))
	}
	return transport.NewPlaces(client, t.PlaceType, opts...)
}

// slug names the run's files. A test area or keyword gets its own files so it
// never resumes a broader run.
func (t runTarget) slug() string {
	loc := strings.SplitN(t.Location, ",", 2)[0]
	switch {
	case t.AreaFile != "":
		loc = strings.TrimSuffix(filepath.Base(t.AreaFile), filepath.Ext(t.AreaFile))
	case t.TestArea != "":
		loc += " " + t.TestArea
	}
	kind := t.PlaceType
	if t.Keyword != "" {
		kind += " " + t.Keyword
	}
	return checkpoint.RunSlug(kind, loc, t.DryRun)
}

// area returns the outline from the area file, the named test area or the
// geocoded location, in that order.
func (t runTarget) area(ctx context.Context, client google.Client) (grid.SearchArea, error) {
	if t.AreaFile != "" {
		return grid.LoadAreaFile(t.AreaFile)
	}
	if t.usesTestArea() {
		return grid.TestArea(t.TestArea)
	}
	if t.Location == "" {
		return grid.SearchArea{}, eris.New("search: location is required without a test area")
	}
	return transport.ResolveArea(ctx, client, t.Location)
}
