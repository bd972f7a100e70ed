package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aseven02/streamget/internal/orchestrator"
)

// Run is one persisted capture run.
type Run struct {
	ID         uuid.UUID `json:"id"`
	RoomURL    string    `json:"room_url"`
	AnchorName string    `json:"anchor_name,omitempty"`
	Title      string    `json:"title,omitempty"`
	RoomStatus string    `json:"room_status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes,omitempty"`
}

// Outcome is one persisted per-quality result.
type Outcome struct {
	RunID        uuid.UUID `json:"run_id"`
	Quality      string    `json:"quality"`
	Status       string    `json:"status"`
	OutputPath   string    `json:"output_path,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	ArchiveURL   string    `json:"archive_url,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	ElapsedMS    int64     `json:"elapsed_ms"`
}

// Repository persists run reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertRun records one finished run and all of its outcomes in a single
// transaction.
func (r *Repository) InsertRun(ctx context.Context, roomURL string, report *orchestrator.RunReport) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const runQ = `INSERT INTO capture_runs (id, room_url, anchor_name, title, room_status, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, runQ,
		report.RunID, roomURL, report.Meta.AnchorName, report.Meta.Title,
		report.Meta.Status.String(), report.StartedAt, report.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	const outQ = `INSERT INTO capture_outcomes (run_id, quality, status, output_path, bytes_written, error_detail, started_at, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, out := range report.Outcomes {
		_, err = tx.Exec(ctx, outQ,
			report.RunID, string(out.Quality), string(out.Status), out.OutputPath,
			out.BytesWritten, out.ErrorDetail, out.StartedAt, out.Elapsed.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", out.Quality, err)
		}
	}
	return tx.Commit(ctx)
}

// MarkArchived records the archive URL for one outcome after its file
// lands in object storage.
func (r *Repository) MarkArchived(ctx context.Context, runID uuid.UUID, quality, archiveURL string) error {
	const q = `UPDATE capture_outcomes SET archive_url = $1 WHERE run_id = $2 AND quality = $3`
	_, err := r.pool.Exec(ctx, q, archiveURL, runID, quality)
	return err
}

// GetRun returns one run with its outcomes, or nil when unknown.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	const q = `SELECT id, room_url, anchor_name, title, room_status, started_at, finished_at
		FROM capture_runs WHERE id = $1`
	var run Run
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&run.ID, &run.RoomURL, &run.AnchorName, &run.Title, &run.RoomStatus, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	const outQ = `SELECT run_id, quality, status, output_path, bytes_written, error_detail, archive_url, started_at, elapsed_ms
		FROM capture_outcomes WHERE run_id = $1 ORDER BY started_at`
	rows, err := r.pool.Query(ctx, outQ, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var out Outcome
		if err := rows.Scan(&out.RunID, &out.Quality, &out.Status, &out.OutputPath,
			&out.BytesWritten, &out.ErrorDetail, &out.ArchiveURL, &out.StartedAt, &out.ElapsedMS); err != nil {
			return nil, err
		}
		run.Outcomes = append(run.Outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns the newest runs without their outcomes.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, room_url, anchor_name, title, room_status, started_at, finished_at
		FROM capture_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.RoomURL, &run.AnchorName, &run.Title,
			&run.RoomStatus, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}
