// Package audit implements the append-only Audit Log (spec §4.K): every significant pipeline
// event, persisted with a strictly monotonic per-job sequence number and fanned out live to any
// subscribed audit-stream observer. Grounded on the teacher's Store.AppendAudit (simple append
// pattern) generalized to add monotonic sequencing and a live broadcast side, modeled on
// internal/streamhub's observer registry.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"coherentrecon/internal/models"
)

// Log persists audit events and fans them out to live subscribers.
type Log struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	seq      map[string]int64
	watchers map[string][]chan models.AuditEvent
}

// New wraps pool for persistence.
func New(pool *pgxpool.Pool) *Log {
	return &Log{
		pool:     pool,
		seq:      make(map[string]int64),
		watchers: make(map[string][]chan models.AuditEvent),
	}
}

// Append records a new event for jobID with the next sequence number, persists it, and fans it
// out to any live watchers. The in-memory sequence counter is keyed per job and is only valid
// within a single process; the first Append for a job in this process reloads its last persisted
// sequence number via RestoreSeq.
func (l *Log) Append(ctx context.Context, jobID, kind string, payload any) (models.AuditEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.AuditEvent{}, fmt.Errorf("marshal audit payload: %w", err)
	}

	l.mu.Lock()
	_, known := l.seq[jobID]
	l.mu.Unlock()
	if !known {
		if err := l.RestoreSeq(ctx, jobID); err != nil {
			return models.AuditEvent{}, err
		}
	}

	l.mu.Lock()
	next := l.seq[jobID] + 1
	l.seq[jobID] = next
	l.mu.Unlock()

	event := models.AuditEvent{
		JobID:       jobID,
		SequenceNum: next,
		Timestamp:   time.Now().UTC(),
		EventKind:   kind,
		Payload:     body,
	}

	if _, err := l.pool.Exec(ctx, `
		INSERT INTO audit_events (job_id, sequence_num, ts, event_kind, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, event.JobID, event.SequenceNum, event.Timestamp, event.EventKind, event.Payload); err != nil {
		return models.AuditEvent{}, fmt.Errorf("insert audit event: %w", err)
	}

	l.broadcast(jobID, event)
	return event, nil
}

// RestoreSeq loads the last persisted sequence number for jobID, so a resumed job's in-memory
// counter continues from where it left off instead of restarting at zero.
func (l *Log) RestoreSeq(ctx context.Context, jobID string) error {
	var last int64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_num), 0) FROM audit_events WHERE job_id = $1
	`, jobID).Scan(&last)
	if err != nil {
		return fmt.Errorf("restore audit sequence: %w", err)
	}
	l.mu.Lock()
	l.seq[jobID] = last
	l.mu.Unlock()
	return nil
}

// History returns every persisted event for jobID in order.
func (l *Log) History(ctx context.Context, jobID string) ([]models.AuditEvent, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT job_id, sequence_num, ts, event_kind, payload FROM audit_events
		WHERE job_id = $1 ORDER BY sequence_num ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.JobID, &e.SequenceNum, &e.Timestamp, &e.EventKind, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// watchBuffer bounds how many events a slow audit-stream subscriber can lag behind before being
// dropped, mirroring internal/streamhub's per-observer cap.
const watchBuffer = 64

// Watch registers a live subscriber for jobID's audit events. The returned channel is closed when
// ctx is done; the caller must drain it to avoid leaking the registration.
func (l *Log) Watch(ctx context.Context, jobID string) <-chan models.AuditEvent {
	ch := make(chan models.AuditEvent, watchBuffer)

	l.mu.Lock()
	l.watchers[jobID] = append(l.watchers[jobID], ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		watchers := l.watchers[jobID]
		for i, w := range watchers {
			if w == ch {
				l.watchers[jobID] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (l *Log) broadcast(jobID string, event models.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.watchers[jobID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than block the pipeline.
		}
	}
}
