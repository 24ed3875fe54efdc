package wordutil

import "testing"

func TestCountWords(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"hello", 1},
		{"hello world", 2},
		{"  hello   world  ", 2},
		{"a\nb\tc", 3},
	}
	for _, c := range cases {
		if got := CountWords(c.in); got != c.want {
			t.Errorf("CountWords(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseTargetLength(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"write a 20k word piece", 20000},
		{"2.5K words please", 2500},
		{"turn this into a 90000 word dissertation", 90000},
		{"write a 3,500 word chapter", 3500},
		{"target 20,000-25,000 words", 22500},
		{"make it a thesis", defaultThesisWords},
		{"write a PhD dissertation", defaultDissertationWords},
		{"write a 5 page thesis", 5000},
		{"no length info here", 0},
		{"20", 0},
	}
	for _, c := range cases {
		if got := ParseTargetLength(c.in); got != c.want {
			t.Errorf("ParseTargetLength(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCalculateLengthConfigPreserve(t *testing.T) {
	cfg := CalculateLengthConfig(3000, 0, 0, "")
	if cfg.Mode != "preserve" {
		t.Fatalf("expected preserve mode, got %s", cfg.Mode)
	}
	if cfg.ChunkTarget < 600 || cfg.ChunkTarget > 4000 {
		t.Fatalf("chunk target out of clamp range: %d", cfg.ChunkTarget)
	}
	if cfg.NumChunks < 1 {
		t.Fatalf("expected at least one chunk, got %d", cfg.NumChunks)
	}
}

func TestCalculateLengthConfigExpand(t *testing.T) {
	cfg := CalculateLengthConfig(1050, 0, 0, "TURN THIS INTO A 20000 WORD DISSERTATION")
	if cfg.Mode != "expand" {
		t.Fatalf("expected expand mode, got %s", cfg.Mode)
	}
	if cfg.TargetMid < 18000 {
		t.Fatalf("expected target mid near 20000, got %d", cfg.TargetMid)
	}
}
