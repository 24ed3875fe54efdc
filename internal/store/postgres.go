// Package store persists Job/Chunk/StitchResult rows in Postgres. Grounded on the teacher's
// internal/store/postgres.go (pgxpool wrapping, explicit BeginTx/defer-Rollback/Commit
// transactions, pgtype.Text for nullable columns), generalized from a generic scheduled-task
// record to the reconstruction pipeline's job/chunk/stitch-result schema.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"coherentrecon/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool so sibling packages (internal/deltastore, internal/audit) can
// share a single connection pool instead of opening their own.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a new job row in the pending state.
func (s *Store) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
	lengthJSON, err := json.Marshal(job.Length)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal length config: %w", err)
	}
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal params: %w", err)
	}

	now := time.Now().UTC()
	job.Status = models.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, source_text, input_word_count, length_config, params, status, current_chunk, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, job.ID, job.SourceText, job.InputWordCount, lengthJSON, paramsJSON, job.Status, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id, including its skeleton and stitch result if present.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_text, input_word_count, length_config, params, status, current_chunk,
		       error_message, global_skeleton, final_output, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var lengthJSON, paramsJSON []byte
	var skeletonJSON []byte
	var errMsg pgtype.Text
	var finalOutput pgtype.Text

	if err := row.Scan(&job.ID, &job.SourceText, &job.InputWordCount, &lengthJSON, &paramsJSON,
		&job.Status, &job.CurrentChunk, &errMsg, &skeletonJSON, &finalOutput,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("job not found: %w", err)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(lengthJSON, &job.Length); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal length config: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal params: %w", err)
	}
	job.ErrorMessage = textPtr(errMsg)
	job.FinalOutput = finalOutput.String
	if skeletonJSON != nil {
		var sk models.Skeleton
		if err := json.Unmarshal(skeletonJSON, &sk); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal skeleton: %w", err)
		}
		job.GlobalSkeleton = &sk
	}

	if res, err := s.getStitchResult(ctx, id); err == nil {
		job.Validation = res
	}

	return job, nil
}

// UpdateJobStatus sets status and, when currentChunk >= 0, current_chunk, plus an optional error
// message. currentChunk < 0 leaves the stored value untouched, so terminal-state transitions
// (fail/abort) don't need to know the in-progress chunk index.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status string, currentChunk int, errMsg *string) error {
	if currentChunk >= 0 {
		_, err := s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, current_chunk = $3, error_message = $4, updated_at = NOW()
			WHERE id = $1
		`, id, status, currentChunk, errMsg)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1
	`, id, status, errMsg)
	return err
}

// SaveSkeleton persists the job's global skeleton.
func (s *Store) SaveSkeleton(ctx context.Context, jobID string, sk models.Skeleton) error {
	body, err := json.Marshal(sk)
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs SET global_skeleton = $2, updated_at = NOW() WHERE id = $1
	`, jobID, body)
	return err
}

// CreateChunks bulk-inserts a job's chunk plan within a single transaction.
func (s *Store) CreateChunks(ctx context.Context, jobID string, chunks []models.Chunk) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (job_id, chunk_index, input_text, input_words, target_words, min_words, max_words, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (job_id, chunk_index) DO NOTHING
		`, jobID, c.ChunkIndex, c.InputText, c.InputWords, c.TargetWords, c.MinWords, c.MaxWords, models.ChunkPending, now)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit(ctx)
}

// ListChunks returns every chunk for jobID in order.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, chunk_index, input_text, input_words, target_words, min_words, max_words,
		       output_text, actual_words, status, retry_count, flagged, chunk_delta, created_at, updated_at
		FROM chunks WHERE job_id = $1 ORDER BY chunk_index ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var deltaJSON []byte
		if err := rows.Scan(&c.JobID, &c.ChunkIndex, &c.InputText, &c.InputWords, &c.TargetWords,
			&c.MinWords, &c.MaxWords, &c.OutputText, &c.ActualWords, &c.Status, &c.RetryCount,
			&c.Flagged, &deltaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if deltaJSON != nil {
			var d models.ChunkDelta
			if err := json.Unmarshal(deltaJSON, &d); err == nil {
				c.Delta = &d
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SaveStitchResult upserts the job's global validation result.
func (s *Store) SaveStitchResult(ctx context.Context, jobID string, res models.StitchResult) error {
	conflicts, _ := json.Marshal(res.Conflicts)
	termDrift, _ := json.Marshal(res.TermDrift)
	missing, _ := json.Marshal(res.MissingPremises)
	redundancies, _ := json.Marshal(res.Redundancies)
	repairPlan, _ := json.Marshal(res.RepairPlan)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO stitch_results (job_id, conflicts, term_drift, missing_premises, redundancies, repair_plan, coherence_score, verdict, best_effort_failure)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE SET
			conflicts = EXCLUDED.conflicts, term_drift = EXCLUDED.term_drift,
			missing_premises = EXCLUDED.missing_premises, redundancies = EXCLUDED.redundancies,
			repair_plan = EXCLUDED.repair_plan, coherence_score = EXCLUDED.coherence_score,
			verdict = EXCLUDED.verdict, best_effort_failure = EXCLUDED.best_effort_failure
	`, jobID, conflicts, termDrift, missing, redundancies, repairPlan, res.CoherenceScore, res.Verdict, res.BestEffortFailure)
	return err
}

func (s *Store) getStitchResult(ctx context.Context, jobID string) (*models.StitchResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT conflicts, term_drift, missing_premises, redundancies, repair_plan, coherence_score, verdict, best_effort_failure
		FROM stitch_results WHERE job_id = $1
	`, jobID)

	var res models.StitchResult
	res.JobID = jobID
	var conflicts, termDrift, missing, redundancies, repairPlan []byte
	var bestEffort pgtype.Text
	if err := row.Scan(&conflicts, &termDrift, &missing, &redundancies, &repairPlan, &res.CoherenceScore, &res.Verdict, &bestEffort); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(conflicts, &res.Conflicts)
	_ = json.Unmarshal(termDrift, &res.TermDrift)
	_ = json.Unmarshal(missing, &res.MissingPremises)
	_ = json.Unmarshal(redundancies, &res.Redundancies)
	_ = json.Unmarshal(repairPlan, &res.RepairPlan)
	res.BestEffortFailure = textPtr(bestEffort)
	return &res, nil
}

// SaveFinalOutput persists the assembled, stitched document text.
func (s *Store) SaveFinalOutput(ctx context.Context, jobID string, output string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET final_output = $2, updated_at = NOW() WHERE id = $1
	`, jobID, output)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
