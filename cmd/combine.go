package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/placegrid/internal/coverage"
)

var combineCmd = &cobra.Command{
	Use:   "combine MAP_DATA MAP_DATA...",
	Short: "Merge saved map data files into one coverage map",
	Long:  "Loads two or more map_data_*.json snapshots, merges their grid points and places, and writes a combined HTML map plus combined snapshot data.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("output-dir")
		if dir == "" {
			dir = cfg.Search.OutputDir
		}
		return runCombine(cmd.Context(), os.Stdout, args, dir, time.Now())
	},
}

func init() {
	combineCmd.Flags().String("output-dir", "", "directory for the combined map (default from config)")
	rootCmd.AddCommand(combineCmd)
}

func runCombine(ctx context.Context, out io.Writer, paths []string, dir string, now time.Time) error {
	if len(paths) < 2 {
		return eris.New("combine: at least two map data files are required")
	}
	log := zap.L().With(zap.String("command", "combine"))

	snaps := make([]*coverage.Snapshot, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			s, err := coverage.Load(p)
			if err != nil {
				return err
			}
			snaps[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "combine")
	}

	merged := coverage.MergeSnapshots(snaps...)
	merged.CreatedAt = now.UTC()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "combine: create output dir")
	}
	stamp := now.Format("20060102_150405")
	htmlPath := filepath.Join(dir, "combined_map_"+stamp+".html")
	dataPath := filepath.Join(dir, "combined_map_data_"+stamp+".json")

	if err := coverage.Save(dataPath, merged); err != nil {
		return err
	}
	if err := renderFile(htmlPath, merged); err != nil {
		return err
	}

	st := merged.Stats()
	log.Info("maps combined",
		zap.Int("inputs", len(paths)),
		zap.Int("standard_points", st.StandardPoints),
		zap.Int("refinement_points", st.RefinementPoints),
		zap.Int("unique_places", st.UniquePlaces),
	)
	_, _ = fmt.Fprintf(out, "Combined %d maps: %d standard points, %d refinement points, %d unique places\n",
		len(paths), st.StandardPoints, st.RefinementPoints, st.UniquePlaces)
	_, _ = fmt.Fprintf(out, "Combined map written to %s\nCombined data written to %s\n", htmlPath, dataPath)
	return nil
}
