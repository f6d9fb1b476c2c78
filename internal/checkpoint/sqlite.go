package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/placegrid/internal/search"
)

// SQLiteStore persists runs in a SQLite database. Several runs can share one
// database; rows are keyed by run slug.
type SQLiteStore struct {
	db   *sql.DB
	path string
	slug string
	now  func() time.Time
}

// NewSQLite opens the database at path in WAL mode with full fsync on commit.
func NewSQLite(path, slug string) (*SQLiteStore, error) {
	if slug == "" {
		return nil, eris.New("sqlite: empty run slug")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, path: path, slug: slug, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS progress (
	slug       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS query_results (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL,
	point_id   TEXT NOT NULL,
	record     TEXT NOT NULL,
	queried_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS refinements (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL,
	parent_id  TEXT NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	radius     REAL NOT NULL,
	raw_count  INTEGER NOT NULL,
	children   INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS place_ids (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	slug     TEXT NOT NULL,
	place_id TEXT NOT NULL,
	UNIQUE (slug, place_id)
);

CREATE INDEX IF NOT EXISTS idx_query_results_slug ON query_results(slug);
CREATE INDEX IF NOT EXISTS idx_refinements_slug ON refinements(slug);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Location returns the database path.
func (s *SQLiteStore) Location() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, state *search.ProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress (slug, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		s.slug, string(data), s.now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save progress %s", s.slug)
}

func (s *SQLiteStore) LoadProgress(ctx context.Context) (*search.ProgressState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM progress WHERE slug = ?`, s.slug).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load progress %s", s.slug)
	}
	var state search.ProgressState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode progress")
	}
	return &state, nil
}

func (s *SQLiteStore) AppendRefinement(ctx context.Context, rec search.RefinementRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refinements (slug, parent_id, lat, lon, radius, raw_count, children, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.slug, rec.ParentID, rec.Center.Lat(), rec.Center.Lon(), rec.Radius,
		rec.RawCount, rec.Children, rec.Reason, rec.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert refinement %s", rec.ParentID)
}

func (s *SQLiteStore) AppendUniqueIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin place ids")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO place_ids (slug, place_id) VALUES (?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare place ids")
	}
	defer stmt.Close() //nolint:errcheck

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, s.slug, id); err != nil {
			return eris.Wrapf(err, "sqlite: insert place id %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit place ids")
}

func (s *SQLiteStore) AppendResult(ctx context.Context, rec search.QueryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_results (slug, point_id, record, queried_at) VALUES (?, ?, ?, ?)`,
		s.slug, rec.Point.ID, string(data), rec.QueriedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert result %s", rec.Point.ID)
}

func (s *SQLiteStore) LoadResults(ctx context.Context) ([]search.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM query_results WHERE slug = ? ORDER BY seq`, s.slug)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	defer rows.Close() //nolint:errcheck

	var out []search.QueryRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var rec search.QueryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode result")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) LoadUniqueIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT place_id FROM place_ids WHERE slug = ? ORDER BY seq`, s.slug)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query place ids")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan place id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate place ids")
}

// LoadRefinements returns the run's refinement log in insertion order.
func (s *SQLiteStore) LoadRefinements(ctx context.Context) ([]search.RefinementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id, lat, lon, radius, raw_count, children, reason, created_at
		 FROM refinements WHERE slug = ? ORDER BY seq`, s.slug)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query refinements")
	}
	defer rows.Close() //nolint:errcheck

	var out []search.RefinementRecord
	for rows.Next() {
		var (
			rec      search.RefinementRecord
			lat, lon float64
		)
		if err := rows.Scan(&rec.ParentID, &lat, &lon, &rec.Radius, &rec.RawCount, &rec.Children, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan refinement")
		}
		rec.Center[0], rec.Center[1] = lon, lat
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate refinements")
}

// Reset moves the run's rows under an archive slug "<slug>@<timestamp>".
// Nothing is deleted.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	archived := s.slug + "@" + s.now().UTC().Format("20060102T150405")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reset")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"progress", "query_results", "refinements", "place_ids"} {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET slug = ? WHERE slug = ?`, archived, s.slug); err != nil {
			return eris.Wrapf(err, "sqlite: archive %s", table)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reset")
}
