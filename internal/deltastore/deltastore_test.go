package deltastore

import (
	"strings"
	"testing"

	"coherentrecon/internal/models"
)

func TestAccumulateCapsClaims(t *testing.T) {
	var deltas []models.ChunkDelta
	for i := 0; i < 20; i++ {
		deltas = append(deltas, models.ChunkDelta{NewClaimsIntroduced: []string{claimName(i)}})
	}
	ctx := Accumulate(deltas)
	if len(ctx.Claims) != maxClaims {
		t.Fatalf("expected %d claims, got %d", maxClaims, len(ctx.Claims))
	}
	if ctx.Claims[len(ctx.Claims)-1] != claimName(19) {
		t.Fatalf("expected most recent claim retained, got %v", ctx.Claims)
	}
}

func TestAccumulateCapsTermsAndConflicts(t *testing.T) {
	var deltas []models.ChunkDelta
	for i := 0; i < 30; i++ {
		deltas = append(deltas, models.ChunkDelta{
			TermsUsed:         []models.TermUsage{{Term: claimName(i)}},
			ConflictsDetected: []models.Conflict{{Description: claimName(i)}},
		})
	}
	ctx := Accumulate(deltas)
	if len(ctx.Terms) != maxTerms {
		t.Fatalf("expected %d terms, got %d", maxTerms, len(ctx.Terms))
	}
	if len(ctx.Conflicts) != maxConflicts {
		t.Fatalf("expected %d conflicts, got %d", maxConflicts, len(ctx.Conflicts))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if s := (CoherenceContext{}).Summarize(); s != "" {
		t.Fatalf("expected empty summary, got %q", s)
	}
}

func TestSummarizeIncludesAllSections(t *testing.T) {
	ctx := CoherenceContext{
		Claims:    []string{"the sky is blue"},
		Terms:     []models.TermUsage{{Term: "entropy", Sense: "thermodynamic"}},
		Conflicts: []models.Conflict{{Description: "chunk 2 contradicts chunk 1"}},
	}
	out := ctx.Summarize()
	for _, want := range []string{"the sky is blue", "entropy: thermodynamic", "chunk 2 contradicts chunk 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected summary to contain %q, got:\n%s", want, out)
		}
	}
}

func claimName(i int) string {
	return "claim-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
}
