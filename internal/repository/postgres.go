package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

// PostgresStore implements the jobs, reports and hashes repositories on a
// shared pgx pool. Schema lives in schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, type, payload, state, progress, result, failure_reason, attempts, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		job.ID,
		string(job.Type),
		job.Payload,
		string(job.State),
		job.Progress,
		job.Result,
		job.FailureReason,
		job.Attempts,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job     domain.Job
		jobType string
		state   string
		payload []byte
		result  []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, type, payload, state, progress, result, failure_reason, attempts,
		       created_at, started_at, finished_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&jobType,
		&payload,
		&state,
		&job.Progress,
		&result,
		&job.FailureReason,
		&job.Attempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Type = domain.JobType(jobType)
	job.State = domain.JobState(state)
	job.Payload = json.RawMessage(payload)
	job.Result = json.RawMessage(result)
	return &job, nil
}

func (s *PostgresStore) MarkActive(ctx context.Context, jobID string, attempt int) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'active',
			attempts = $2,
			started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND state IN ('waiting', 'active')
	`, jobID, attempt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark job active: %w", err)
	}
	if command.RowsAffected() == 0 {
		return s.notFoundOrTerminal(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND state IN ('waiting', 'active')
	`, jobID, progress)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if command.RowsAffected() == 0 {
		return s.notFoundOrTerminal(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'completed',
			progress = 100,
			result = $2,
			failure_reason = '',
			finished_at = $3
		WHERE id = $1 AND state NOT IN ('completed', 'failed')
	`, jobID, result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return s.notFoundOrTerminal(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, reason string) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'failed',
			failure_reason = $2,
			finished_at = $3
		WHERE id = $1 AND state NOT IN ('completed', 'failed')
	`, jobID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return s.notFoundOrTerminal(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) notFoundOrTerminal(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrTerminalState, job.State)
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *domain.PlagiarismReport) error {
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	command, err := s.pool.Exec(ctx, `
		INSERT INTO plagiarism_reports (job_id, pdf_path, body, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING
	`, report.JobID, report.PDFPath, encoded, report.Timestamp)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, jobID string) (*domain.PlagiarismReport, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT body FROM plagiarism_reports WHERE job_id = $1
	`, jobID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report: %w", err)
	}

	var report domain.PlagiarismReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

func (s *PostgresStore) StoreHashes(ctx context.Context, imagePath string, hashes map[string]string) error {
	now := time.Now().UTC()
	for family, hash := range hashes {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO diagram_hashes (image_path, family, hash, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (image_path, family) DO UPDATE SET hash = EXCLUDED.hash
		`, imagePath, family, hash, now)
		if err != nil {
			return fmt.Errorf("store hash %s: %w", family, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListHashes(ctx context.Context, family string) ([]domain.StoredHash, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_path, family, hash, created_at
		FROM diagram_hashes
		WHERE family = $1
		ORDER BY created_at
	`, family)
	if err != nil {
		return nil, fmt.Errorf("list hashes: %w", err)
	}
	defer rows.Close()

	hashes := make([]domain.StoredHash, 0)
	for rows.Next() {
		var stored domain.StoredHash
		if err := rows.Scan(&stored.ImagePath, &stored.Family, &stored.Hash, &stored.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stored hash: %w", err)
		}
		hashes = append(hashes, stored)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stored hashes: %w", rows.Err())
	}
	return hashes, nil
}
