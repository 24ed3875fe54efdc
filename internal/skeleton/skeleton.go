// Package skeleton implements the Skeleton Extractor (spec §4.D): one LLM call per job producing
// a structured GlobalSkeleton, retried on transport error or malformed output with exponential
// backoff.
package skeleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"coherentrecon/internal/llm"
	"coherentrecon/internal/llm/retryclient"
	"coherentrecon/internal/models"
)

// ErrMalformed indicates the LLM's skeleton response was missing required keys or had an empty
// section list. Treated as a retryable failure, exactly like a transport error.
var ErrMalformed = errors.New("skeleton: malformed extractor response")

// wireSkeleton mirrors the JSON shape requested from the LLM.
type wireSkeleton struct {
	Sections []wireSection `json:"sections"`
}

type wireSection struct {
	Title       string   `json:"title"`
	Claims      []string `json:"claims"`
	TargetWords int      `json:"target_words"`
	Terms       []string `json:"terms_of_art"`
	RelatedTo   []int    `json:"related_section_ids"`
}

// Extract invokes client once to build a GlobalSkeleton for the given source text and requested
// structure, retrying up to three times (exponential backoff, base 1s cap 30s) on transport error
// or malformed output.
func Extract(ctx context.Context, client llm.Client, sourceText string, structure []models.PlanSection, targetWords int) (models.Skeleton, error) {
	policy := retryclient.ExponentialPolicy()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := client.Complete(ctx, buildRequest(sourceText, structure, targetWords))
		if err == nil {
			sk, perr := parseSkeleton(resp.Text)
			if perr == nil {
				return sk, nil
			}
			err = perr
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		if !llm.IsRetryable(err) && !errors.Is(err, ErrMalformed) {
			return models.Skeleton{}, err
		}
		select {
		case <-ctx.Done():
			return models.Skeleton{}, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return models.Skeleton{}, fmt.Errorf("skeleton extraction failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

func buildRequest(sourceText string, structure []models.PlanSection, targetWords int) llm.Request {
	var sb strings.Builder
	sb.WriteString("Produce a structured outline (skeleton) of the following document as JSON ")
	sb.WriteString(`with shape {"sections":[{"title":"","claims":[""],"target_words":0,"terms_of_art":[""],"related_section_ids":[0]}]}. `)
	if len(structure) > 0 {
		sb.WriteString("The outline must cover, in order, these sections: ")
		for i, s := range structure {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.Name)
		}
		sb.WriteString(". ")
	}
	if targetWords > 0 {
		sb.WriteString(fmt.Sprintf("Total target length is approximately %d words. ", targetWords))
	}
	sb.WriteString("\n\nSOURCE:\n")
	sb.WriteString(sourceText)

	return llm.Request{
		SystemPrompt: "You extract structural outlines from long documents. Respond with JSON only.",
		UserPrompt:   sb.String(),
		MaxTokens:    4000,
	}
}

func parseSkeleton(text string) (models.Skeleton, error) {
	text = extractJSON(text)
	var w wireSkeleton
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return models.Skeleton{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Sections) == 0 {
		return models.Skeleton{}, ErrMalformed
	}
	sections := make([]models.Section, 0, len(w.Sections))
	for i, s := range w.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return models.Skeleton{}, ErrMalformed
		}
		sections = append(sections, models.Section{
			SectionID:        i,
			Title:            s.Title,
			Claims:           s.Claims,
			TargetWords:      s.TargetWords,
			TermsOfArt:       s.Terms,
			RelatedSectionID: s.RelatedTo,
		})
	}
	return models.Skeleton{Sections: sections}, nil
}

// extractJSON trims common LLM wrapping (markdown code fences, leading prose) down to the first
// balanced JSON object, best-effort.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
