// Package controller implements the Job Controller (spec §4.I): the state machine driving one
// job from skeleton extraction through chunk processing to the global stitch pass, with per-chunk
// retries, abort-at-chunk-boundary semantics, and resume-from-current-chunk recovery. Grounded on
// the teacher's worker.Processor.Run main loop (attempt/backoff/terminal-state shape) and its
// process registration via WorkerID, generalized here into an explicit in-memory registry that
// rejects a duplicate run of the same job rather than tracking which worker owns it.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"coherentrecon/internal/chunker"
	"coherentrecon/internal/deltastore"
	"coherentrecon/internal/lengthenforce"
	"coherentrecon/internal/llm"
	"coherentrecon/internal/llm/retryclient"
	"coherentrecon/internal/models"
	"coherentrecon/internal/reconstruct"
	"coherentrecon/internal/skeleton"
	"coherentrecon/internal/stitch"
	"coherentrecon/internal/streamhub"
)

// Store is the persistence surface the controller needs. Satisfied by *store.Store.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJobStatus(ctx context.Context, id, status string, currentChunk int, errMsg *string) error
	SaveSkeleton(ctx context.Context, jobID string, sk models.Skeleton) error
	CreateChunks(ctx context.Context, jobID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, jobID string) ([]models.Chunk, error)
	SaveStitchResult(ctx context.Context, jobID string, res models.StitchResult) error
	SaveFinalOutput(ctx context.Context, jobID string, output string) error
}

// DeltaStore is the coherence-context persistence surface. Satisfied by *deltastore.Store.
type DeltaStore interface {
	WriteChunkDelta(ctx context.Context, chunk models.Chunk) error
	LoadPriorDeltas(ctx context.Context, jobID string, upToIndex int) ([]models.ChunkDelta, error)
}

// AuditLog is the audit surface the controller writes to. Satisfied by *audit.Log.
type AuditLog interface {
	Append(ctx context.Context, jobID, kind string, payload any) (models.AuditEvent, error)
}

// Metrics groups the counters/gauges the controller updates as it runs. Any field left nil is a
// no-op, so tests can construct a zero-value Metrics.
type Metrics struct {
	JobStarted          func()
	JobCompleted        func()
	JobFailed           func()
	JobAborted          func()
	ChunkRetry          func()
	ContinuationAttempt func()
	ActiveJobsInc       func()
	ActiveJobsDec       func()
}

func (m Metrics) fire(f func()) {
	if f != nil {
		f()
	}
}

// chunkRetryPolicy is the fixed-delay policy named in spec §4.I: 3 retries at 2s/5s/15s.
var chunkRetryPolicy = retryclient.FixedDelayPolicy()

// Controller drives jobs through the pipeline. A single Controller instance is shared across all
// goroutines running jobs; the registry it holds is what prevents two goroutines from running the
// same job concurrently.
type Controller struct {
	store   Store
	deltas  DeltaStore
	audit   AuditLog
	hub     *streamhub.Hub
	llm     llm.Client
	metrics Metrics

	mu      sync.Mutex
	running map[string]bool
	aborted map[string]bool
}

// New constructs a Controller. llmClient should already be wrapped for provider-level transport
// retries (internal/llmfactory does this); the controller layers its own chunk-level fixed-delay
// retry loop on top, timed by retryclient.FixedDelayPolicy.
func New(st Store, deltas DeltaStore, auditLog AuditLog, hub *streamhub.Hub, llmClient llm.Client, metrics Metrics) *Controller {
	return &Controller{
		store:   st,
		deltas:  deltas,
		audit:   auditLog,
		hub:     hub,
		llm:     llmClient,
		metrics: metrics,
		running: make(map[string]bool),
		aborted: make(map[string]bool),
	}
}

// ErrAlreadyRunning is returned when a caller tries to start a job that already has an active
// runner in this process.
var ErrAlreadyRunning = fmt.Errorf("controller: job already running")

// claim registers jobID as running, returning ErrAlreadyRunning if another goroutine already
// holds it.
func (c *Controller) claim(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[jobID] {
		return ErrAlreadyRunning
	}
	c.running[jobID] = true
	return nil
}

func (c *Controller) release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, jobID)
	delete(c.aborted, jobID)
}

// Abort marks jobID for abort at the next chunk boundary. It does not interrupt an in-flight LLM
// call.
func (c *Controller) Abort(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted[jobID] = true
}

func (c *Controller) isAborted(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted[jobID]
}

// Run drives jobID through whichever pipeline stages remain, resuming from job.CurrentChunk when
// chunk processing was already underway. It recovers from panics at this boundary (spec §5):
// a panicking stage fails the job rather than crashing the process.
func (c *Controller) Run(ctx context.Context, jobID string) (err error) {
	if err := c.claim(jobID); err != nil {
		return err
	}
	defer c.release(jobID)

	c.metrics.fire(c.metrics.ActiveJobsInc)
	defer c.metrics.fire(c.metrics.ActiveJobsDec)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic in job controller: %v", r)
			_ = c.store.UpdateJobStatus(ctx, jobID, models.StatusFailed, -1, &msg)
			_, _ = c.audit.Append(ctx, jobID, models.EventError, map[string]string{"error": msg})
			c.metrics.fire(c.metrics.JobFailed)
			err = fmt.Errorf("%s", msg)
		}
	}()

	job, jobErr := c.store.GetJob(ctx, jobID)
	if jobErr != nil {
		return fmt.Errorf("load job: %w", jobErr)
	}

	if job.Status == models.StatusFailed || job.Status == models.StatusAborted {
		if err := c.resumeJob(ctx, &job); err != nil {
			return fmt.Errorf("resume job: %w", err)
		}
	}

	c.metrics.fire(c.metrics.JobStarted)
	_, _ = c.audit.Append(ctx, jobID, models.EventJobStarted, nil)

	if job.Status == models.StatusPending {
		if err := c.runSkeletonExtraction(ctx, &job); err != nil {
			return c.fail(ctx, jobID, err)
		}
	}

	if job.Status == models.StatusChunkProcessing {
		if err := c.runChunkProcessing(ctx, &job); err != nil {
			if c.isAborted(jobID) {
				return c.markAborted(ctx, jobID)
			}
			return c.fail(ctx, jobID, err)
		}
	}

	if c.isAborted(jobID) {
		return c.markAborted(ctx, jobID)
	}

	if job.Status == models.StatusStitching {
		if err := c.runStitching(ctx, &job); err != nil {
			return c.fail(ctx, jobID, err)
		}
	}

	_ = c.store.UpdateJobStatus(ctx, jobID, models.StatusComplete, job.CurrentChunk, nil)
	_, _ = c.audit.Append(ctx, jobID, models.EventJobCompleted, nil)
	c.metrics.fire(c.metrics.JobCompleted)
	c.publish(jobID, "job_complete", nil)
	return nil
}

// resumeJob puts a failed or aborted job back into the in-progress stage Run's status-equality
// checks expect, so execution actually re-enters skeleton extraction, chunk processing, or
// stitching instead of falling through to job_complete with work undone (spec §4.H: resume
// starts at currentChunk with the same skeleton). A skeleton on record means chunking already
// happened, so chunk processing resumes at job.CurrentChunk (runChunkProcessing's loop starts
// there and, if every chunk is already complete, falls straight through to stitching); no
// skeleton means the job never got past extraction and starts over from pending.
func (c *Controller) resumeJob(ctx context.Context, job *models.Job) error {
	resumeStatus := models.StatusPending
	if job.GlobalSkeleton != nil {
		resumeStatus = models.StatusChunkProcessing
	}
	if err := c.store.UpdateJobStatus(ctx, job.ID, resumeStatus, job.CurrentChunk, nil); err != nil {
		return err
	}
	job.Status = resumeStatus
	job.ErrorMessage = nil
	return nil
}

func (c *Controller) fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	_ = c.store.UpdateJobStatus(ctx, jobID, models.StatusFailed, -1, &msg)
	_, _ = c.audit.Append(ctx, jobID, models.EventJobFailed, map[string]string{"error": msg})
	c.metrics.fire(c.metrics.JobFailed)
	c.publish(jobID, "job_failed", map[string]string{"error": msg})
	return cause
}

func (c *Controller) markAborted(ctx context.Context, jobID string) error {
	_ = c.store.UpdateJobStatus(ctx, jobID, models.StatusAborted, -1, nil)
	_, _ = c.audit.Append(ctx, jobID, models.EventJobAborted, nil)
	c.metrics.fire(c.metrics.JobAborted)
	c.publish(jobID, "job_aborted", nil)
	return nil
}

func (c *Controller) publish(jobID, eventType string, data any) {
	if c.hub == nil {
		return
	}
	c.hub.Publish(streamhub.Event{Type: eventType, JobID: jobID, Data: data})
}

func (c *Controller) runSkeletonExtraction(ctx context.Context, job *models.Job) error {
	_ = c.store.UpdateJobStatus(ctx, job.ID, models.StatusSkeletonExtraction, job.CurrentChunk, nil)
	job.Status = models.StatusSkeletonExtraction
	c.publish(job.ID, "skeleton_extraction_started", nil)

	sk, err := skeleton.Extract(ctx, c.llm, job.SourceText, nil, job.Length.TargetMid)
	if err != nil {
		return fmt.Errorf("skeleton extraction: %w", err)
	}
	if err := c.store.SaveSkeleton(ctx, job.ID, sk); err != nil {
		return fmt.Errorf("save skeleton: %w", err)
	}
	job.GlobalSkeleton = &sk
	_, _ = c.audit.Append(ctx, job.ID, models.EventSkeletonExtracted, sk)
	c.publish(job.ID, "skeleton_extracted", sk)

	chunks := buildChunks(job)
	if err := c.store.CreateChunks(ctx, job.ID, chunks); err != nil {
		return fmt.Errorf("create chunks: %w", err)
	}

	_ = c.store.UpdateJobStatus(ctx, job.ID, models.StatusChunkProcessing, 0, nil)
	job.Status = models.StatusChunkProcessing
	job.CurrentChunk = 0
	return nil
}

func buildChunks(job *models.Job) []models.Chunk {
	parts := chunker.Split(job.SourceText, job.Length.ChunkTarget)
	chunks := make([]models.Chunk, len(parts))
	for i, p := range parts {
		target := int(float64(p.WordCount) * job.Length.Ratio)
		if target <= 0 {
			target = p.WordCount
		}
		min, max := models.LengthBand(target)
		chunks[i] = models.Chunk{
			JobID:       job.ID,
			ChunkIndex:  i,
			InputText:   p.Text,
			InputWords:  p.WordCount,
			TargetWords: target,
			MinWords:    min,
			MaxWords:    max,
			Status:      models.ChunkPending,
		}
	}
	return chunks
}

// shortfallCheckEvery and shortfallCheckFrom implement spec §4.I's projected-shortfall warning:
// starting at chunk index 19, re-evaluate every 10 chunks whether the pipeline is on track to
// undershoot the job's total target length.
const (
	shortfallCheckFrom  = 19
	shortfallCheckEvery = 10
	shortfallThreshold  = 0.9
)

func (c *Controller) runChunkProcessing(ctx context.Context, job *models.Job) error {
	chunks, err := c.store.ListChunks(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	var sk models.Skeleton
	if job.GlobalSkeleton != nil {
		sk = *job.GlobalSkeleton
	}

	for i := job.CurrentChunk; i < len(chunks); i++ {
		if c.isAborted(job.ID) {
			return fmt.Errorf("job aborted at chunk %d", i)
		}

		chunk := chunks[i]
		deltas, err := c.deltas.LoadPriorDeltas(ctx, job.ID, i)
		if err != nil {
			return fmt.Errorf("load prior deltas: %w", err)
		}
		coherence := deltastore.Accumulate(deltas)

		processed, err := c.processChunkWithRetry(ctx, sk, coherence, chunk)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}

		if err := c.deltas.WriteChunkDelta(ctx, processed); err != nil {
			return fmt.Errorf("write chunk %d delta: %w", i, err)
		}
		chunks[i] = processed
		job.CurrentChunk = i + 1
		_ = c.store.UpdateJobStatus(ctx, job.ID, models.StatusChunkProcessing, job.CurrentChunk, nil)
		_, _ = c.audit.Append(ctx, job.ID, models.EventChunkProcessed, map[string]any{"chunk_index": i, "words": processed.ActualWords, "flagged": processed.Flagged})
		c.publish(job.ID, "chunk_complete", map[string]any{"chunk_index": i, "words": processed.ActualWords})

		c.checkShortfall(job, chunks, i)
	}

	_ = c.store.UpdateJobStatus(ctx, job.ID, models.StatusStitching, job.CurrentChunk, nil)
	job.Status = models.StatusStitching
	return nil
}

func (c *Controller) checkShortfall(job *models.Job, chunks []models.Chunk, upTo int) {
	if upTo < shortfallCheckFrom || (upTo-shortfallCheckFrom)%shortfallCheckEvery != 0 {
		return
	}
	var sum int
	for i := 0; i <= upTo; i++ {
		sum += chunks[i].ActualWords
	}
	avg := float64(sum) / float64(upTo+1)
	projected := avg * float64(len(chunks))
	if projected < shortfallThreshold*float64(job.Length.TargetMid) {
		c.publish(job.ID, "length_shortfall_warning", map[string]any{
			"projected_words": int(projected),
			"target_words":    job.Length.TargetMid,
		})
	}
}

func (c *Controller) processChunkWithRetry(ctx context.Context, sk models.Skeleton, coherence deltastore.CoherenceContext, chunk models.Chunk) (models.Chunk, error) {
	var lastErr error
	for attempt := 1; attempt <= chunkRetryPolicy.MaxAttempts; attempt++ {
		result, err := c.processChunk(ctx, sk, coherence, chunk)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.metrics.fire(c.metrics.ChunkRetry)
		if attempt == chunkRetryPolicy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return models.Chunk{}, ctx.Err()
		case <-time.After(chunkRetryPolicy.Delay(attempt)):
		}
	}
	chunk.Status = models.ChunkFailed
	chunk.Flagged = true
	return chunk, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Controller) processChunk(ctx context.Context, sk models.Skeleton, coherence deltastore.CoherenceContext, chunk models.Chunk) (models.Chunk, error) {
	chunk.Status = models.ChunkProcessing

	draft, err := reconstruct.Run(ctx, c.llm, sk, coherence, chunk)
	if err != nil {
		return chunk, err
	}

	sourcePrompt := llm.Request{SystemPrompt: "You are expanding and rewriting a passage while preserving every claim and staying consistent with prior sections."}
	enforced, err := lengthenforce.Enforce(ctx, c.llm, sourcePrompt, draft.Text, draft.StopReason, chunk.TargetWords, chunk.MinWords, chunk.MaxWords)
	if err != nil {
		return chunk, err
	}
	for i := 1; i < enforced.Attempts; i++ {
		c.metrics.fire(c.metrics.ContinuationAttempt)
	}

	chunk.OutputText = enforced.Text
	chunk.ActualWords = enforced.Words
	chunk.Flagged = enforced.Flagged
	chunk.Status = models.ChunkComplete
	chunk.Delta = synthesizeDelta(chunk, enforced, sk, coherence)
	return chunk, nil
}

// maxClaimsPerChunk bounds the lightweight extraction below so one dense chunk can't flood the
// coherence context the next chunk's prompt is built from (deltastore.Accumulate caps further,
// but there's no reason to even write more than this per chunk).
const maxClaimsPerChunk = 5

// claimCues is the short list of assertion cues spec §4.F step 4's lightweight claim extraction
// looks for: a sentence built around one of these reads as a declarative statement rather than
// description or transition, without attempting real NLP.
var claimCues = []string{
	" is ", " are ", " was ", " were ", " causes ", " results in ", " leads to ",
	" means ", " requires ", " implies ", " demonstrates ", " shows that ",
}

// synthesizeDelta derives a ChunkDelta from the chunk's own final text, the skeleton's declared
// terms of art, and the coherence context accumulated so far, when the reconstruction call itself
// doesn't separately return a structured delta (spec §4.F step 4: "If the model does not emit a
// structured delta, synthesize one by lightweight claim extraction on the output").
func synthesizeDelta(chunk models.Chunk, enforced lengthenforce.Result, sk models.Skeleton, coherence deltastore.CoherenceContext) *models.ChunkDelta {
	claims := extractClaims(enforced.Text)
	terms := extractTermUsage(enforced.Text, sk)
	conflicts := detectConflicts(chunk.ChunkIndex, terms, coherence)

	ledger := make([]models.LedgerAddition, 0, len(claims)+1)
	for _, claim := range claims {
		ledger = append(ledger, models.LedgerAddition{Fact: claim, SourceChunk: chunk.ChunkIndex})
	}
	ledger = append(ledger, models.LedgerAddition{
		Fact:        fmt.Sprintf("chunk %d produced %d words", chunk.ChunkIndex, enforced.Words),
		SourceChunk: chunk.ChunkIndex,
	})

	return &models.ChunkDelta{
		NewClaimsIntroduced: claims,
		TermsUsed:           terms,
		ConflictsDetected:   conflicts,
		LedgerAdditions:     ledger,
	}
}

// extractClaims scans each sentence of the chunk's output for an assertion cue and keeps the
// sentence whole as the "claim" if one is found.
func extractClaims(text string) []string {
	var claims []string
	for _, sentence := range splitSentences(text) {
		s := strings.TrimSpace(sentence)
		if s == "" {
			continue
		}
		lower := " " + strings.ToLower(s) + " "
		for _, cue := range claimCues {
			if strings.Contains(lower, cue) {
				claims = append(claims, s)
				break
			}
		}
		if len(claims) >= maxClaimsPerChunk {
			break
		}
	}
	return claims
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

// extractTermUsage scans the chunk's output for every term of art named anywhere in the skeleton
// and records the words immediately surrounding its first occurrence as a rough "sense"
// fingerprint: the same term surrounded by materially different context in a later chunk is the
// signal both detectConflicts here and internal/stitch.detectTermDrift look for.
func extractTermUsage(text string, sk models.Skeleton) []models.TermUsage {
	var out []models.TermUsage
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	for _, sec := range sk.Sections {
		for _, term := range sec.TermsOfArt {
			key := strings.ToLower(term)
			if term == "" || seen[key] {
				continue
			}
			idx := strings.Index(lower, key)
			if idx < 0 {
				continue
			}
			seen[key] = true
			out = append(out, models.TermUsage{Term: term, Sense: senseWindow(text, idx, len(term))})
		}
	}
	return out
}

// senseWindow renders the text immediately around a term occurrence as a single-line fingerprint
// of how the term was used there.
func senseWindow(text string, idx, termLen int) string {
	const radius = 60
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + termLen + radius
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text[start:end]), " "))
}

// detectConflicts flags a term whose sense fingerprint in this chunk differs from its most recent
// fingerprint in the accumulated coherence context, surfacing the same signal
// internal/stitch.detectTermDrift computes globally at the end of the job as soon as it happens.
func detectConflicts(chunkIndex int, terms []models.TermUsage, coherence deltastore.CoherenceContext) []models.Conflict {
	prior := make(map[string]string, len(coherence.Terms))
	for _, t := range coherence.Terms {
		prior[strings.ToLower(t.Term)] = t.Sense
	}
	var conflicts []models.Conflict
	for _, t := range terms {
		priorSense, ok := prior[strings.ToLower(t.Term)]
		if !ok || priorSense == t.Sense {
			continue
		}
		conflicts = append(conflicts, models.Conflict{
			Description: fmt.Sprintf("term %q used differently than earlier in the document (prior: %q, now: %q)", t.Term, priorSense, t.Sense),
			WithChunk:   chunkIndex,
			Severity:    "low",
		})
	}
	return conflicts
}

func (c *Controller) runStitching(ctx context.Context, job *models.Job) error {
	chunks, err := c.store.ListChunks(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list chunks for stitch: %w", err)
	}

	result, err := stitch.Validate(ctx, c.llm, job.ID, chunks)
	if err != nil {
		return fmt.Errorf("stitch validation: %w", err)
	}
	if err := c.store.SaveStitchResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("save stitch result: %w", err)
	}
	_, _ = c.audit.Append(ctx, job.ID, models.EventStitchPass, result)
	c.publish(job.ID, "stitch_complete", result)

	final := assembleFinal(chunks)
	if err := c.store.SaveFinalOutput(ctx, job.ID, final); err != nil {
		return fmt.Errorf("save final output: %w", err)
	}
	job.FinalOutput = final
	job.Validation = &result
	return nil
}

func assembleFinal(chunks []models.Chunk) string {
	var out string
	for i, c := range chunks {
		if i > 0 {
			out += "\n\n"
		}
		out += c.OutputText
	}
	return out
}
