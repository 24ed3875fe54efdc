package directive

import (
	"reflect"
	"testing"
)

func TestParseEmpty(t *testing.T) {
	plan := Parse("")
	if plan.TargetWordCount != nil || plan.Structure != nil {
		t.Fatalf("expected empty plan for empty input, got %+v", plan)
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{
		"", "   ", "asdkjfh 29@#$ kjashdf", "Chapter Chapter Chapter",
		"1234567890123456789012345678901234567890",
	}
	for _, in := range inputs {
		_ = Parse(in)
	}
}

func TestParseDissertationDefaultStructure(t *testing.T) {
	plan := Parse("TURN THIS INTO A 20000 WORD DISSERTATION")
	if plan.TargetWordCount == nil || *plan.TargetWordCount != 20000 {
		t.Fatalf("expected target 20000, got %+v", plan.TargetWordCount)
	}
	if len(plan.Structure) != 8 {
		t.Fatalf("expected 8 default sections, got %d: %+v", len(plan.Structure), plan.Structure)
	}
}

func TestParseExplicitStructureWithWordCounts(t *testing.T) {
	plan := Parse("Write an Introduction (2000 words), a Methodology section (3k words), and a Conclusion.")
	if len(plan.Structure) != 3 {
		t.Fatalf("expected 3 sections, got %d: %+v", len(plan.Structure), plan.Structure)
	}
	if plan.Structure[0].Name != "Introduction" || plan.Structure[0].WordCount != 2000 {
		t.Fatalf("unexpected first section: %+v", plan.Structure[0])
	}
	if plan.Structure[1].Name != "Methodology" || plan.Structure[1].WordCount != 3000 {
		t.Fatalf("unexpected second section: %+v", plan.Structure[1])
	}
	if plan.Structure[2].Name != "Conclusion" || plan.Structure[2].WordCount != 0 {
		t.Fatalf("unexpected third section: %+v", plan.Structure[2])
	}
}

func TestParseDuplicateSectionsMerge(t *testing.T) {
	plan := Parse("Include an Introduction. Later, revisit the Intro (1500 words) before the Conclusion.")
	count := 0
	for _, s := range plan.Structure {
		if s.Name == "Introduction" {
			count++
			if s.WordCount != 1500 {
				t.Fatalf("expected merged word count 1500, got %d", s.WordCount)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected Introduction to appear once after merge, got %d", count)
	}
}

func TestParseCitations(t *testing.T) {
	plan := Parse("Include 20 peer-reviewed citations from the last 5 years.")
	if plan.Citations == nil {
		t.Fatal("expected citations to be parsed")
	}
	if plan.Citations.Count != 20 {
		t.Fatalf("expected count 20, got %d", plan.Citations.Count)
	}
	if plan.Citations.Timeframe != "5 years" {
		t.Fatalf("expected timeframe '5 years', got %q", plan.Citations.Timeframe)
	}
}

func TestParseFlags(t *testing.T) {
	plan := Parse("Use an academic register, no bullet points, with internal subsections and a literature review.")
	if !plan.AcademicRegister || !plan.NoBulletPoints || !plan.InternalSubsections || !plan.LiteratureReview {
		t.Fatalf("expected all flags set, got %+v", plan)
	}
}

func TestParseIdempotent(t *testing.T) {
	instr := "TURN THIS INTO A 20000 WORD DISSERTATION with 10 citations from the last 3 years"
	a := Parse(instr)
	b := Parse(instr)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Parse is not deterministic for identical input:\n%+v\n%+v", a, b)
	}
}

func TestParseArabicChapterNumerals(t *testing.T) {
	plan := Parse("Write Chapter 1: Opening Remarks, then Chapter 3: Core Analysis, 2000 words, then Chapter 2.")
	names := make([]string, len(plan.Structure))
	for i, s := range plan.Structure {
		names[i] = s.Name
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 chapters, got %d: %+v", len(names), plan.Structure)
	}
	if names[0] != "Chapter 1" || names[1] != "Chapter 3" || names[2] != "Chapter 2" {
		t.Fatalf("expected chapters in document order, got %v", names)
	}
	for _, s := range plan.Structure {
		if s.Name == "Chapter 3" && s.WordCount != 2000 {
			t.Fatalf("expected Chapter 3 to carry its word count, got %+v", s)
		}
	}
}

func TestParseRomanChapterNumerals(t *testing.T) {
	plan := Parse("Structure it as Chapter I, Chapter II, Chapter IV.")
	if len(plan.Structure) != 3 {
		t.Fatalf("expected 3 chapters, got %d: %+v", len(plan.Structure), plan.Structure)
	}
	if plan.Structure[0].Name != "Chapter 1" || plan.Structure[1].Name != "Chapter 2" || plan.Structure[2].Name != "Chapter 4" {
		t.Fatalf("expected roman numerals converted in order, got %+v", plan.Structure)
	}
}

func TestParseAmbiguousBareNumber(t *testing.T) {
	plan := Parse("make it about 20 long")
	if plan.TargetWordCount != nil {
		t.Fatalf("expected ambiguous bare number to resolve to nil, got %v", *plan.TargetWordCount)
	}
}
