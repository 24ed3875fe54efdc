// Package stitch implements the Stitcher (spec §4.H): the global, end-of-job validation pass that
// looks across every chunk's delta for cross-chunk conflicts, term drift, missing premises, and
// redundancy, and produces a repair plan plus an overall coherence score. Grounded on the
// teacher's single end-to-end audit-and-finalize step (Processor.Run's success path appending an
// audit event and marking the job done), generalized into its own analysis pass.
package stitch

import (
	"context"
	"fmt"
	"strings"

	"coherentrecon/internal/llm"
	"coherentrecon/internal/models"
)

// analysisMaxTokens caps the response length of the stitch pass LLM call.
const analysisMaxTokens = 3000

// Validate runs the global stitch pass over all of a job's chunks and their deltas, invoking the
// LLM once to detect conflicts, term drift, missing premises, and redundancy, then bands the
// result into a CoherenceScore. On an LLM failure, returns a best-effort StitchResult rather than
// failing the whole job, per spec §4.H.
func Validate(ctx context.Context, client llm.Client, jobID string, chunks []models.Chunk) (models.StitchResult, error) {
	result := models.StitchResult{JobID: jobID}

	req := buildAnalysisRequest(chunks)
	resp, err := client.Complete(ctx, req)
	if err != nil {
		msg := err.Error()
		result.BestEffortFailure = &msg
		result.CoherenceScore = models.CoherenceMixed
		result.Verdict = "stitch analysis unavailable; chunks retained as-is"
		return result, nil
	}

	analysis := parseAnalysis(resp.Text)
	result.Conflicts = append(result.Conflicts, crossChunkConflicts(chunks)...)
	result.Conflicts = append(result.Conflicts, analysis.Conflicts...)
	result.TermDrift = detectTermDrift(chunks)
	result.MissingPremises = analysis.MissingPremises
	result.Redundancies = analysis.Redundancies
	result.RepairPlan = buildRepairPlan(result)
	result.CoherenceScore = scoreFrom(result)
	result.Verdict = verdictFor(result.CoherenceScore)
	return result, nil
}

// crossChunkConflicts surfaces conflicts each chunk's own delta already flagged, independent of
// what the global analysis pass finds.
func crossChunkConflicts(chunks []models.Chunk) []models.Conflict {
	var out []models.Conflict
	for _, c := range chunks {
		if c.Delta == nil {
			continue
		}
		out = append(out, c.Delta.ConflictsDetected...)
	}
	return out
}

// detectTermDrift looks for terms of art used with more than one distinct sense across chunks.
func detectTermDrift(chunks []models.Chunk) []models.TermDrift {
	senses := map[string]map[string]bool{}
	chunksByTerm := map[string][]int{}

	for _, c := range chunks {
		if c.Delta == nil {
			continue
		}
		for _, t := range c.Delta.TermsUsed {
			if senses[t.Term] == nil {
				senses[t.Term] = map[string]bool{}
			}
			senses[t.Term][t.Sense] = true
			chunksByTerm[t.Term] = append(chunksByTerm[t.Term], c.ChunkIndex)
		}
	}

	var drift []models.TermDrift
	for term, senseSet := range senses {
		if len(senseSet) <= 1 {
			continue
		}
		var list []string
		for s := range senseSet {
			list = append(list, s)
		}
		drift = append(drift, models.TermDrift{Term: term, Senses: list, Chunks: chunksByTerm[term]})
	}
	return drift
}

func buildRepairPlan(r models.StitchResult) []models.RepairEdit {
	var plan []models.RepairEdit
	for _, c := range r.Conflicts {
		plan = append(plan, models.RepairEdit{
			Description: "resolve conflict: " + c.Description,
			ChunkIndex:  c.WithChunk,
		})
	}
	for _, d := range r.TermDrift {
		if len(d.Chunks) == 0 {
			continue
		}
		plan = append(plan, models.RepairEdit{
			Description: fmt.Sprintf("reconcile term drift for %q (senses: %v)", d.Term, d.Senses),
			ChunkIndex:  d.Chunks[len(d.Chunks)-1],
		})
	}
	return plan
}

func scoreFrom(r models.StitchResult) string {
	issues := len(r.Conflicts) + len(r.TermDrift) + len(r.MissingPremises) + len(r.Redundancies)
	switch {
	case issues == 0:
		return models.CoherenceGood
	case issues <= 3:
		return models.CoherenceMixed
	default:
		return models.CoherencePoor
	}
}

func verdictFor(score string) string {
	switch score {
	case models.CoherenceGood:
		return "document is internally consistent"
	case models.CoherenceMixed:
		return "document has minor inconsistencies, listed in the repair plan"
	default:
		return "document has significant inconsistencies requiring review"
	}
}

type analysisResult struct {
	Conflicts       []models.Conflict
	MissingPremises []string
	Redundancies    []string
}

// parseAnalysis reads the three headed bullet lists buildAnalysisRequest's prompt asks for. It is
// deliberately permissive about whitespace and bullet punctuation, not JSON, since cross-document
// analysis reads more naturally as prose than as a rigid schema; a line outside any recognized
// header is dropped rather than erroring the whole pass.
func parseAnalysis(text string) analysisResult {
	var result analysisResult
	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToUpper(trimmed), "CONTRADICTIONS"):
			section = "contradictions"
			continue
		case strings.HasPrefix(strings.ToUpper(trimmed), "MISSING PREMISES"):
			section = "missing_premises"
			continue
		case strings.HasPrefix(strings.ToUpper(trimmed), "REDUNDANCIES"):
			section = "redundancies"
			continue
		}

		item := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "-"), "*"))
		if item == "" {
			continue
		}
		switch section {
		case "contradictions":
			result.Conflicts = append(result.Conflicts, models.Conflict{Description: item, WithChunk: -1, Severity: "medium"})
		case "missing_premises":
			result.MissingPremises = append(result.MissingPremises, item)
		case "redundancies":
			result.Redundancies = append(result.Redundancies, item)
		}
	}
	return result
}

func buildAnalysisRequest(chunks []models.Chunk) llm.Request {
	prompt := "Read the following document sections in order and identify any contradictions, " +
		"terms used inconsistently, missing premises, or redundant passages. Respond with exactly " +
		"these three headers, one bullet per line starting with \"- \" under each (leave a header's " +
		"list empty if you find nothing):\n\n" +
		"CONTRADICTIONS:\nMISSING PREMISES:\nREDUNDANCIES:\n\n"
	for _, c := range chunks {
		prompt += fmt.Sprintf("--- Section %d ---\n%s\n\n", c.ChunkIndex, c.OutputText)
	}
	return llm.Request{
		SystemPrompt: "You are a meticulous editor checking a long document for internal consistency.",
		UserPrompt:   prompt,
		MaxTokens:    analysisMaxTokens,
	}
}
