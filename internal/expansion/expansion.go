// Package expansion implements the Universal Expansion Engine: parsing a free-text directive into
// a SectionPlan (internal/directive) and then streaming one section at a time: each section gets
// its own generation prompt and then runs through the same internal/lengthenforce continuation
// loop the core pipeline uses for chunks, instead of a second bespoke length loop. Grounded on the teacher's Processor.Run loop shape (iterate ordered
// units of work, update status, emit telemetry per unit) generalized from chunks to sections.
package expansion

import (
	"context"
	"fmt"
	"strings"

	"coherentrecon/internal/directive"
	"coherentrecon/internal/lengthenforce"
	"coherentrecon/internal/llm"
	"coherentrecon/internal/models"
	"coherentrecon/internal/streamhub"
)

// defaultSectionWords is used when neither an explicit total nor an explicit per-section count is
// available anywhere in the directive.
const defaultSectionWords = 800

// SectionResult is one generated section's output.
type SectionResult struct {
	Name    string
	Text    string
	Words   int
	Flagged bool
}

// Run parses directiveText into a SectionPlan and generates each section in order, publishing
// outline/section_complete/complete events to hub's generation stream as it goes.
func Run(ctx context.Context, client llm.Client, directiveText string, hub *streamhub.Hub) ([]SectionResult, models.SectionPlan, error) {
	plan := directive.Parse(directiveText)
	distributeBudget(&plan)

	if hub != nil {
		hub.PublishGeneration(streamhub.Event{Type: "outline", Data: plan})
	}

	results := make([]SectionResult, 0, len(plan.Structure))
	for _, section := range plan.Structure {
		res, err := generateSection(ctx, client, plan, section)
		if err != nil {
			return results, plan, fmt.Errorf("generate section %q: %w", section.Name, err)
		}
		results = append(results, res)
		if hub != nil {
			hub.PublishGeneration(streamhub.Event{Type: "section_complete", Data: res})
		}
	}

	if hub != nil {
		hub.PublishGeneration(streamhub.Event{Type: "complete"})
	}
	return results, plan, nil
}

// distributeBudget fills in WordCount for every section whose directive left it at zero, spread
// evenly over the plan's total target (or a flat default when no total was given either).
func distributeBudget(plan *models.SectionPlan) {
	if len(plan.Structure) == 0 {
		return
	}

	var explicitTotal, unexplicitCount int
	for _, s := range plan.Structure {
		if s.WordCount > 0 {
			explicitTotal += s.WordCount
		} else {
			unexplicitCount++
		}
	}
	if unexplicitCount == 0 {
		return
	}

	remaining := defaultSectionWords * unexplicitCount
	if plan.TargetWordCount != nil {
		total := *plan.TargetWordCount
		if total > explicitTotal {
			remaining = total - explicitTotal
		}
	}
	per := remaining / unexplicitCount
	if per <= 0 {
		per = defaultSectionWords
	}

	for i := range plan.Structure {
		if plan.Structure[i].WordCount == 0 {
			plan.Structure[i].WordCount = per
		}
	}
}

func generateSection(ctx context.Context, client llm.Client, plan models.SectionPlan, section models.PlanSection) (SectionResult, error) {
	min, max := models.LengthBand(section.WordCount)
	req := buildSectionRequest(plan, section)

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return SectionResult{}, err
	}

	enforced, err := lengthenforce.Enforce(ctx, client, req, resp.Text, resp.StopReason, section.WordCount, min, max)
	if err != nil {
		return SectionResult{}, err
	}

	return SectionResult{
		Name:    section.Name,
		Text:    enforced.Text,
		Words:   enforced.Words,
		Flagged: enforced.Flagged,
	}, nil
}

func buildSectionRequest(plan models.SectionPlan, section models.PlanSection) llm.Request {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Write the %q section of a document, targeting approximately %d words. ", section.Name, section.WordCount))

	if plan.AcademicRegister {
		sb.WriteString("Use a formal academic register. ")
	}
	if plan.NoBulletPoints {
		sb.WriteString("Write in continuous prose; do not use bullet points or numbered lists. ")
	}
	if plan.InternalSubsections {
		sb.WriteString("Use internal subheadings where natural. ")
	}
	if section.Name == "Literature Review" || plan.LiteratureReview {
		sb.WriteString("Ground the discussion in a survey of prior work on the topic. ")
	}
	if plan.Citations != nil {
		sb.WriteString(fmt.Sprintf("Include approximately %d citations", plan.Citations.Count))
		if plan.Citations.Timeframe != "" {
			sb.WriteString(" from " + plan.Citations.Timeframe)
		}
		sb.WriteString(". ")
	}
	if len(plan.PhilosophersToReference) > 0 {
		sb.WriteString("Reference the following thinkers where relevant: ")
		sb.WriteString(strings.Join(plan.PhilosophersToReference, ", "))
		sb.WriteString(". ")
	}

	return llm.Request{
		SystemPrompt: "You are writing one section of a longer document, consistent in tone and register with the rest.",
		UserPrompt:   sb.String(),
		MaxTokens:    section.WordCount * 2,
	}
}
