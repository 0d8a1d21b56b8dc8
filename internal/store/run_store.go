package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mfreeman/visatrack/internal/model"
)

// RunStore handles database operations for runs and comparisons.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// InsertRun stores a completed run and assigns its ID.
func (s *RunStore) InsertRun(ctx context.Context, run *model.Run) error {
	var dataJSON []byte
	if run.Data != nil {
		var err error
		dataJSON, err = json.Marshal(run.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal run data: %w", err)
		}
	}

	query := `
		INSERT INTO runs (run_type, started_at, completed_at, success,
		                  bulletin_date, source_url, data_json, error_message, categories_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		run.RunType,
		run.StartedAt,
		run.CompletedAt,
		run.Success,
		run.BulletinDate,
		run.SourceURL,
		nullableJSON(dataJSON),
		run.ErrorMessage,
		run.CategoriesCount,
	).Scan(&run.ID, &run.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil when no run exists.
func (s *RunStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	query := selectRunColumns + ` WHERE id = $1`
	return s.scanRun(s.db.QueryRowContext(ctx, query, id))
}

// GetLastSuccessfulRun retrieves the most recent successful official run,
// excluding the run with excludeID (pass 0 to exclude nothing). Returns
// nil when no such run exists.
func (s *RunStore) GetLastSuccessfulRun(ctx context.Context, excludeID int64) (*model.Run, error) {
	query := selectRunColumns + `
		WHERE success = TRUE AND run_type = 'official' AND id <> $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	return s.scanRun(s.db.QueryRowContext(ctx, query, excludeID))
}

// ListRuns retrieves runs newest first. runType filters by type when
// non-empty; successOnly keeps only successful runs.
func (s *RunStore) ListRuns(ctx context.Context, runType string, successOnly bool, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectRunColumns + `
		WHERE ($1 = '' OR run_type = $1)
		  AND (NOT $2 OR success = TRUE)
		ORDER BY started_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, runType, successOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// CountRuns returns the total number of runs.
func (s *RunStore) CountRuns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// InsertComparison stores the diff between two runs and assigns its ID.
func (s *RunStore) InsertComparison(ctx context.Context, comp *model.Comparison) error {
	var diffJSON []byte
	if comp.Diff != nil {
		var err error
		diffJSON, err = json.Marshal(comp.Diff)
		if err != nil {
			return fmt.Errorf("failed to marshal comparison diff: %w", err)
		}
	}

	query := `
		INSERT INTO comparisons (run_id, previous_run_id, compared_at, has_changes, diff_json)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		comp.RunID,
		comp.PreviousRunID,
		comp.ComparedAt,
		comp.HasChanges,
		nullableJSON(diffJSON),
	).Scan(&comp.ID, &comp.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert comparison: %w", err)
	}
	return nil
}

// GetComparisonForRun retrieves the comparison recorded for a run.
// Returns nil when none exists.
func (s *RunStore) GetComparisonForRun(ctx context.Context, runID int64) (*model.Comparison, error) {
	query := `
		SELECT id, run_id, previous_run_id, compared_at, has_changes, diff_json, created_at
		FROM comparisons
		WHERE run_id = $1
		ORDER BY compared_at DESC
		LIMIT 1
	`

	var comp model.Comparison
	var diffJSON []byte
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&comp.ID,
		&comp.RunID,
		&comp.PreviousRunID,
		&comp.ComparedAt,
		&comp.HasChanges,
		&diffJSON,
		&comp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comparison for run %d: %w", runID, err)
	}

	if len(diffJSON) > 0 {
		comp.Diff = &model.ComparisonResult{}
		if err := json.Unmarshal(diffJSON, comp.Diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comparison diff: %w", err)
		}
	}

	return &comp, nil
}

const selectRunColumns = `
	SELECT id, run_type, started_at, completed_at, success,
	       bulletin_date, source_url, data_json, error_message, categories_count, created_at
	FROM runs
`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *RunStore) scanRun(row *sql.Row) (*model.Run, error) {
	run, err := scanRunRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func scanRunRow(row rowScanner) (*model.Run, error) {
	var run model.Run
	var dataJSON []byte

	err := row.Scan(
		&run.ID,
		&run.RunType,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Success,
		&run.BulletinDate,
		&run.SourceURL,
		&dataJSON,
		&run.ErrorMessage,
		&run.CategoriesCount,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		run.Data = &model.Bulletin{}
		if err := json.Unmarshal(dataJSON, run.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run data: %w", err)
		}
	}

	return &run, nil
}

// nullableJSON maps empty payloads to SQL NULL instead of an invalid
// empty jsonb value.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
