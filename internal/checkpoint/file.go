package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/search"
)

// maxRecordSize bounds one results line; a full page of places is far below it.
const maxRecordSize = 4 << 20

var refinementHeader = []string{"parent_id", "lat", "lon", "radius", "raw_count", "children", "reason", "timestamp"}

// FileStore persists a run as four files in one directory:
//
//	progress_<slug>.json     progress state, replaced atomically
//	place_ids_<slug>.txt     one unique place id per line
//	refinements_<slug>.csv   one row per subdivision
//	results_<slug>.jsonl     one query record per line
//
// Append files are only ever appended to and fsynced after each write.
type FileStore struct {
	dir  string
	slug string
	now  func() time.Time
}

// NewFileStore creates dir if needed and returns a store for slug.
func NewFileStore(dir, slug string) (*FileStore, error) {
	if slug == "" {
		return nil, eris.New("checkpoint: empty run slug")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}
	return &FileStore{dir: dir, slug: slug, now: time.Now}, nil
}

// ProgressPath is the progress state file.
func (s *FileStore) ProgressPath() string { return s.path("progress", ".json") }

// IDsPath is the unique place id list read by the detail-fetch pass.
func (s *FileStore) IDsPath() string { return s.path("place_ids", ".txt") }

// RefinementsPath is the refinement audit log.
func (s *FileStore) RefinementsPath() string { return s.path("refinements", ".csv") }

// ResultsPath is the query record log.
func (s *FileStore) ResultsPath() string { return s.path("results", ".jsonl") }

func (s *FileStore) path(kind, ext string) string {
	return filepath.Join(s.dir, kind+"_"+s.slug+ext)
}

// Location returns the directory the run's files live in.
func (s *FileStore) Location() string { return s.dir }

// Close is a no-op; every write is closed as soon as it is synced.
func (s *FileStore) Close() error { return nil }

// SaveProgress writes state to a temp file in the same directory and renames
// it over the previous state, so readers see either the old or the new state.
func (s *FileStore) SaveProgress(_ context.Context, state *search.ProgressState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal progress")
	}

	tmp, err := os.CreateTemp(s.dir, ".progress-*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp progress")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write temp progress")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync temp progress")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp progress")
	}
	if err := os.Rename(tmp.Name(), s.ProgressPath()); err != nil {
		return eris.Wrap(err, "checkpoint: replace progress")
	}
	return nil
}

// LoadProgress returns nil, nil when no progress file exists.
func (s *FileStore) LoadProgress(_ context.Context) (*search.ProgressState, error) {
	data, err := os.ReadFile(s.ProgressPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: read progress")
	}
	var state search.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: decode progress %s", s.ProgressPath())
	}
	return &state, nil
}

// AppendRefinement adds one CSV row, writing the header first on a new file.
func (s *FileStore) AppendRefinement(_ context.Context, rec search.RefinementRecord) error {
	return s.appendTo(s.RefinementsPath(), func(w io.Writer, empty bool) error {
		cw := csv.NewWriter(w)
		if empty {
			if err := cw.Write(refinementHeader); err != nil {
				return err
			}
		}
		err := cw.Write([]string{
			rec.ParentID,
			strconv.FormatFloat(rec.Center.Lat(), 'f', 6, 64),
			strconv.FormatFloat(rec.Center.Lon(), 'f', 6, 64),
			strconv.FormatFloat(rec.Radius, 'f', 1, 64),
			strconv.Itoa(rec.RawCount),
			strconv.Itoa(rec.Children),
			rec.Reason,
			rec.Timestamp.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

// AppendUniqueIDs adds one line per id.
func (s *FileStore) AppendUniqueIDs(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	return s.appendTo(s.IDsPath(), func(w io.Writer, _ bool) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// AppendResult adds one JSON line.
func (s *FileStore) AppendResult(_ context.Context, rec search.QueryRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal result")
	}
	line = append(line, '\n')
	return s.appendTo(s.ResultsPath(), func(w io.Writer, _ bool) error {
		_, err := w.Write(line)
		return err
	})
}

// LoadResults reads the query log. Lines that do not decode, such as a line
// torn by a crash mid-write, are skipped. The log can hold records for points
// the progress state never marked done; callers filter on the state.
func (s *FileStore) LoadResults(_ context.Context) ([]search.QueryRecord, error) {
	f, err := os.Open(s.ResultsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open results")
	}
	defer f.Close() //nolint:errcheck

	var out []search.QueryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), maxRecordSize)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec search.QueryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			zap.L().Warn("checkpoint: skipping unreadable result line",
				zap.String("file", s.ResultsPath()),
				zap.Int("line", n),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "checkpoint: scan results")
	}
	return out, nil
}

// LoadUniqueIDs reads the id list, dropping blank lines and repeats.
func (s *FileStore) LoadUniqueIDs(_ context.Context) ([]string, error) {
	f, err := os.Open(s.IDsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open place ids")
	}
	defer f.Close() //nolint:errcheck

	var ids []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := string(bytes.TrimSpace(sc.Bytes()))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "checkpoint: scan place ids")
	}
	return ids, nil
}

// LoadRefinements reads the refinement log. Rows that do not parse, such as
// one torn by a crash mid-write, are skipped.
func (s *FileStore) LoadRefinements(_ context.Context) ([]search.RefinementRecord, error) {
	f, err := os.Open(s.RefinementsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open refinements")
	}
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	var out []search.RefinementRecord
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "checkpoint: read refinements line %d", line)
		}
		if line == 1 && len(row) > 0 && row[0] == refinementHeader[0] {
			continue
		}
		rec, err := parseRefinement(row)
		if err != nil {
			zap.L().Warn("checkpoint: skipping unreadable refinement row",
				zap.String("file", s.RefinementsPath()),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRefinement(row []string) (search.RefinementRecord, error) {
	var rec search.RefinementRecord
	if len(row) != len(refinementHeader) {
		return rec, eris.Errorf("want %d fields, got %d", len(refinementHeader), len(row))
	}
	lat, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return rec, eris.Wrap(err, "lat")
	}
	lon, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return rec, eris.Wrap(err, "lon")
	}
	if rec.Radius, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, eris.Wrap(err, "radius")
	}
	if rec.RawCount, err = strconv.Atoi(row[4]); err != nil {
		return rec, eris.Wrap(err, "raw_count")
	}
	if rec.Children, err = strconv.Atoi(row[5]); err != nil {
		return rec, eris.Wrap(err, "children")
	}
	if rec.Timestamp, err = time.Parse(time.RFC3339, row[7]); err != nil {
		return rec, eris.Wrap(err, "timestamp")
	}
	rec.ParentID = row[0]
	rec.Center = orb.Point{lon, lat}
	rec.Reason = row[6]
	return rec, nil
}

// Reset renames the run's files to <name>.<timestamp>.bak. Nothing is
// deleted.
func (s *FileStore) Reset(_ context.Context) error {
	stamp := s.now().UTC().Format("20060102T150405")
	for _, p := range []string{s.ProgressPath(), s.IDsPath(), s.RefinementsPath(), s.ResultsPath()} {
		err := os.Rename(p, p+"."+stamp+".bak")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return eris.Wrapf(err, "checkpoint: archive %s", filepath.Base(p))
		}
	}
	return nil
}

// appendTo opens path for appending, lets write add to it and syncs. If a
// previous write was torn the file does not end in a newline; one is added
// first so the new record starts on its own line.
func (s *FileStore) appendTo(path string, write func(w io.Writer, empty bool) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: open %s", filepath.Base(path))
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "checkpoint: stat %s", filepath.Base(path))
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return eris.Wrapf(err, "checkpoint: read %s", filepath.Base(path))
		}
		if last[0] != '\n' {
			if _, err := f.Write([]byte{'\n'}); err != nil {
				return eris.Wrapf(err, "checkpoint: repair %s", filepath.Base(path))
			}
		}
	}

	if err := write(f, info.Size() == 0); err != nil {
		return eris.Wrapf(err, "checkpoint: append %s", filepath.Base(path))
	}
	if err := f.Sync(); err != nil {
		return eris.Wrapf(err, "checkpoint: sync %s", filepath.Base(path))
	}
	return f.Close()
}
