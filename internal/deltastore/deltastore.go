// Package deltastore persists each chunk's ChunkDelta and reassembles the bounded coherence
// context carried forward into the next chunk's prompt (spec §4.E). Grounded on the teacher's
// transactional Store.CreateJob (begin/defer-rollback/commit shape, jackc/pgx/v5) and its
// AppendAudit pattern for the warn-and-continue path on a missing delta.
package deltastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coherentrecon/internal/models"
)

// Bounds on how much prior context is carried forward, per spec §4.E.
const (
	maxClaims    = 15
	maxTerms     = 20
	maxConflicts = 5
)

// Store writes and reads chunk deltas against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. deltastore shares the pool with the rest of internal/store rather
// than opening its own connection, since both write within the same per-chunk transaction.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WriteChunkDelta persists chunk's output and delta, and advances the job's current_chunk past it,
// in a single transaction, retrying once on a
// verification read-back mismatch (spec §4.E: write-then-verify-then-retry-once).
func (s *Store) WriteChunkDelta(ctx context.Context, chunk models.Chunk) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.writeOnce(ctx, chunk); err != nil {
			lastErr = err
			continue
		}
		ok, err := s.verify(ctx, chunk)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
		lastErr = fmt.Errorf("deltastore: verification mismatch for job %s chunk %d", chunk.JobID, chunk.ChunkIndex)
	}
	return lastErr
}

func (s *Store) writeOnce(ctx context.Context, chunk models.Chunk) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deltaJSON []byte
	if chunk.Delta != nil {
		deltaJSON, err = json.Marshal(chunk.Delta)
		if err != nil {
			return fmt.Errorf("marshal chunk delta: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE chunks
		SET output_text = $3, actual_words = $4, status = $5, retry_count = $6, flagged = $7,
		    chunk_delta = $8, updated_at = NOW()
		WHERE job_id = $1 AND chunk_index = $2
	`, chunk.JobID, chunk.ChunkIndex, chunk.OutputText, chunk.ActualWords, chunk.Status,
		chunk.RetryCount, chunk.Flagged, deltaJSON)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE jobs SET current_chunk = $2 WHERE id = $1`, chunk.JobID, chunk.ChunkIndex+1)
	if err != nil {
		return fmt.Errorf("advance job current chunk: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) verify(ctx context.Context, chunk models.Chunk) (bool, error) {
	var status string
	var actualWords int
	err := s.pool.QueryRow(ctx, `
		SELECT status, actual_words FROM chunks WHERE job_id = $1 AND chunk_index = $2
	`, chunk.JobID, chunk.ChunkIndex).Scan(&status, &actualWords)
	if err != nil {
		return false, fmt.Errorf("verify read-back: %w", err)
	}
	return status == chunk.Status && actualWords == chunk.ActualWords, nil
}

// LoadPriorDeltas reads every chunk below upToIndex (exclusive) for jobID, in order.
func (s *Store) LoadPriorDeltas(ctx context.Context, jobID string, upToIndex int) ([]models.ChunkDelta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_delta FROM chunks
		WHERE job_id = $1 AND chunk_index < $2
		ORDER BY chunk_index ASC
	`, jobID, upToIndex)
	if err != nil {
		return nil, fmt.Errorf("query prior deltas: %w", err)
	}
	defer rows.Close()

	var deltas []models.ChunkDelta
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan delta: %w", err)
		}
		if raw == nil {
			log.Printf("deltastore: warning: job %s has a chunk below %d with no delta; continuing without it", jobID, upToIndex)
			continue
		}
		var d models.ChunkDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			// A malformed delta is logged and skipped rather than failing the whole job; one
			// chunk's bookkeeping should never block the rest of the pipeline.
			log.Printf("deltastore: warning: skipping malformed delta for job %s: %v", jobID, err)
			continue
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}

// CoherenceContext is the bounded, accumulated state carried into the next chunk's prompt.
type CoherenceContext struct {
	Claims    []string
	Terms     []models.TermUsage
	Conflicts []models.Conflict
}

// Accumulate folds deltas (oldest first) into a CoherenceContext capped at maxClaims/maxTerms/
// maxConflicts, keeping the most recent entries of each kind.
func Accumulate(deltas []models.ChunkDelta) CoherenceContext {
	var claims []string
	var terms []models.TermUsage
	var conflicts []models.Conflict

	for _, d := range deltas {
		claims = append(claims, d.NewClaimsIntroduced...)
		terms = append(terms, d.TermsUsed...)
		conflicts = append(conflicts, d.ConflictsDetected...)
	}

	return CoherenceContext{
		Claims:    lastN(claims, maxClaims),
		Terms:     lastNTerms(terms, maxTerms),
		Conflicts: lastNConflicts(conflicts, maxConflicts),
	}
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func lastNTerms(items []models.TermUsage, n int) []models.TermUsage {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func lastNConflicts(items []models.Conflict, n int) []models.Conflict {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// Summarize renders a CoherenceContext as the plain-text block inserted into the next chunk's
// prompt, per spec §4.E.
func (c CoherenceContext) Summarize() string {
	if len(c.Claims) == 0 && len(c.Terms) == 0 && len(c.Conflicts) == 0 {
		return ""
	}
	var sb strings.Builder
	if len(c.Claims) > 0 {
		sb.WriteString("Established claims so far:\n")
		for _, claim := range c.Claims {
			sb.WriteString("- ")
			sb.WriteString(claim)
			sb.WriteString("\n")
		}
	}
	if len(c.Terms) > 0 {
		sb.WriteString("Terms of art in use:\n")
		for _, t := range c.Terms {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Term, t.Sense))
		}
	}
	if len(c.Conflicts) > 0 {
		sb.WriteString("Open conflicts to avoid deepening:\n")
		for _, cf := range c.Conflicts {
			sb.WriteString("- ")
			sb.WriteString(cf.Description)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ErrNoDelta is returned by callers (not this package) that choose to treat an absent delta as an
// error rather than the default warn-and-continue behavior.
var ErrNoDelta = errors.New("deltastore: chunk has no delta")
