// Package checkpoint persists search progress so an interrupted run can be
// resumed. Two backends are available: plain files next to the run's output
// and a SQLite database.
package checkpoint

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placegrid/internal/search"
)

// Store is a search.Store that holds resources until closed.
type Store interface {
	search.Store
	// Location describes where the run is persisted.
	Location() string
	Close() error
}

const (
	// DriverFile keeps progress in JSON and line-oriented text files.
	DriverFile = "file"
	// DriverSQLite keeps progress in a SQLite database.
	DriverSQLite = "sqlite"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// RunSlug names a run's files from its place type, location and mode, e.g.
// "physiotherapist_berlin_germany_live". Dry runs and live runs never share
// files.
func RunSlug(placeType, location string, dryRun bool) string {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	parts := []string{slugify(placeType), slugify(location), mode}
	return strings.Join(parts, "_")
}

func slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// Open returns the store selected by driver for the run named slug under dir.
func Open(ctx context.Context, driver, dir, slug string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dir, slug)
	case DriverSQLite:
		st, err := NewSQLite(filepath.Join(dir, "placegrid.db"), slug)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("checkpoint: unknown driver %q", driver)
	}
}
