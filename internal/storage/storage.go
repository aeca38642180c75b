// Package storage keeps a SQLite history of probe runs per host so that
// features appearing or disappearing between runs (microcode, BIOS or
// hypervisor changes) can be reported.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

const schemaVersion = 1

// Store manages probe history persistence via SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Run is one recorded probe.
type Run struct {
	ID              string                       `json:"id"`
	Host            string                       `json:"host"`
	TakenAt         time.Time                    `json:"taken_at"`
	Identity        cpufeatures.Identity         `json:"identity"`
	IntelCompatible bool                         `json:"intel_compatible"`
	Features        map[cpufeatures.Feature]bool `json:"features"`
}

// Change is a feature whose value differs between two runs.
type Change struct {
	Feature cpufeatures.Feature `json:"feature"`
	Before  bool                `json:"before"`
	After   bool                `json:"after"`
}

func (c Change) String() string {
	if c.After {
		return c.Feature.String() + " appeared"
	}
	return c.Feature.String() + " disappeared"
}

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite supports only 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	log.Infof("Probe history store opened at %s", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		host             TEXT NOT NULL,
		taken_at         INTEGER NOT NULL,
		vendor           TEXT NOT NULL DEFAULT '',
		brand            TEXT NOT NULL DEFAULT '',
		family           INTEGER NOT NULL DEFAULT 0,
		model            INTEGER NOT NULL DEFAULT 0,
		stepping         INTEGER NOT NULL DEFAULT 0,
		max_leaf         INTEGER NOT NULL DEFAULT 0,
		max_ext_leaf     INTEGER NOT NULL DEFAULT 0,
		intel_compatible INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_host_taken ON runs(host, taken_at);

	CREATE TABLE IF NOT EXISTS run_features (
		run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		feature TEXT NOT NULL,
		present INTEGER NOT NULL,
		PRIMARY KEY (run_id, feature)
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores snap as a new run for host.
func (s *Store) RecordRun(ctx context.Context, host string, snap *cpufeatures.Snapshot) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := Run{
		ID:              uuid.NewString(),
		Host:            host,
		TakenAt:         snap.TakenAt,
		Identity:        snap.Identity,
		IntelCompatible: snap.IntelCompatible,
		Features:        make(map[cpufeatures.Feature]bool, len(snap.Features)),
	}
	if run.TakenAt.IsZero() {
		run.TakenAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := run.Identity
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, host, taken_at, vendor, brand, family, model, stepping, max_leaf, max_ext_leaf, intel_compatible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, host, run.TakenAt.UnixNano(), id.Vendor, id.BrandName, id.Family, id.Model, id.Stepping,
		int64(id.MaxLeaf), int64(id.MaxExtLeaf), boolToInt(run.IntelCompatible))
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run: %w", err)
	}

	for _, f := range cpufeatures.AllFeatures() {
		present := snap.Has(f)
		run.Features[f] = present
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO run_features (run_id, feature, present) VALUES (?, ?, ?)",
			run.ID, f.String(), boolToInt(present)); err != nil {
			return Run{}, fmt.Errorf("failed to record feature %s: %w", f, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("failed to commit run: %w", err)
	}
	log.Debugf("Recorded probe run %s for %s", run.ID, host)
	return run, nil
}

// LatestRuns returns up to limit runs for host, newest first.
func (s *Store) LatestRuns(ctx context.Context, host string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host, taken_at, vendor, brand, family, model, stepping, max_leaf, max_ext_leaf, intel_compatible
		FROM runs
		WHERE host = ?
		ORDER BY taken_at DESC, rowid DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r               Run
			takenAt         int64
			maxLeaf         int64
			maxExtLeaf      int64
			intelCompatible int
		)
		if err := rows.Scan(&r.ID, &r.Host, &takenAt, &r.Identity.Vendor, &r.Identity.BrandName,
			&r.Identity.Family, &r.Identity.Model, &r.Identity.Stepping, &maxLeaf, &maxExtLeaf, &intelCompatible); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.TakenAt = time.Unix(0, takenAt).UTC()
		r.Identity.MaxLeaf = uint32(maxLeaf)
		r.Identity.MaxExtLeaf = uint32(maxExtLeaf)
		r.IntelCompatible = intelCompatible != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Features, err = s.features(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) features(ctx context.Context, runID string) (map[cpufeatures.Feature]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT feature, present FROM run_features WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	out := make(map[cpufeatures.Feature]bool)
	for rows.Next() {
		var name string
		var present int
		if err := rows.Scan(&name, &present); err != nil {
			return nil, err
		}
		f, err := cpufeatures.ParseFeature(name)
		if errors.Is(err, cpufeatures.ErrUnknownFeature) {
			log.Debugf("Ignoring unknown feature %q in run %s", name, runID)
			continue
		}
		out[f] = present != 0
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs for host.
func (s *Store) Prune(ctx context.Context, host string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stale := `SELECT id FROM runs WHERE host = ? ORDER BY taken_at DESC, rowid DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, "DELETE FROM run_features WHERE run_id IN ("+stale+")", host, keep); err != nil {
		return 0, fmt.Errorf("failed to prune features: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id IN ("+stale+")", host, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Debugf("Pruned %d old runs for %s", n, host)
	}
	return n, nil
}

// Changes lists the features whose value differs from prev to cur.
func Changes(prev, cur Run) []Change {
	var out []Change
	for _, f := range cpufeatures.AllFeatures() {
		if prev.Features[f] != cur.Features[f] {
			out = append(out, Change{Feature: f, Before: prev.Features[f], After: cur.Features[f]})
		}
	}
	return out
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
