package expansion

import (
	"context"
	"testing"

	"coherentrecon/internal/llm/stubclient"
	"coherentrecon/internal/models"
	"coherentrecon/internal/streamhub"
)

func TestDistributeBudgetSpreadsRemainder(t *testing.T) {
	total := 3000
	plan := models.SectionPlan{
		TargetWordCount: &total,
		Structure: []models.PlanSection{
			{Name: "Introduction", WordCount: 500},
			{Name: "Body", WordCount: 0},
			{Name: "Conclusion", WordCount: 0},
		},
	}
	distributeBudget(&plan)
	if plan.Structure[1].WordCount != 1250 || plan.Structure[2].WordCount != 1250 {
		t.Fatalf("expected remaining 2500 split evenly, got %+v", plan.Structure)
	}
}

func TestDistributeBudgetDefaultsWithoutTotal(t *testing.T) {
	plan := models.SectionPlan{
		Structure: []models.PlanSection{{Name: "Introduction", WordCount: 0}},
	}
	distributeBudget(&plan)
	if plan.Structure[0].WordCount != defaultSectionWords {
		t.Fatalf("expected default section words, got %d", plan.Structure[0].WordCount)
	}
}

func TestRunGeneratesEverySectionAndPublishesEvents(t *testing.T) {
	client := stubclient.New(stubclient.Options{Mode: stubclient.ModeRatio, Ratio: 1.0})
	hub := streamhub.New(nil)
	genCh := hub.SubscribeGeneration()

	results, plan, err := Run(context.Background(), client, "Write a 2000 word dissertation with introduction and conclusion", hub)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(plan.Structure) {
		t.Fatalf("expected one result per planned section, got %d results for %d sections", len(results), len(plan.Structure))
	}

	seenOutline, seenComplete := false, false
	for i := 0; i < len(plan.Structure)+2; i++ {
		select {
		case e := <-genCh:
			switch e.Type {
			case "outline":
				seenOutline = true
			case "complete":
				seenComplete = true
			}
		default:
		}
	}
	if !seenOutline || !seenComplete {
		t.Fatalf("expected outline and complete events, got outline=%v complete=%v", seenOutline, seenComplete)
	}
}
