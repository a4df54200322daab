package synth

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/llm"
)

func contributions(tension, novelty []int) []archetype.Contribution {
	cs := make([]archetype.Contribution, len(tension))
	for i := range tension {
		cs[i] = archetype.Contribution{
			Archetype:    archetype.Order[i%len(archetype.Order)],
			Response:     "response",
			TensionScore: tension[i],
			NoveltyScore: novelty[i],
		}
	}
	return cs
}

func TestBreakthroughScore_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		st    Stats
		layer int
		prior int
		want  int
	}{
		{"nothing", Stats{AvgTension: 3, MaxTension: 5, AvgNovelty: 4}, 1, 0, 0},
		{"tension and novelty", Stats{AvgTension: 6, MaxTension: 7, AvgNovelty: 6}, 1, 0, 4},
		{"max tension and avg tension", Stats{AvgTension: 6, MaxTension: 8, AvgNovelty: 5}, 1, 0, 5},
		{"late layer and history", Stats{AvgTension: 5, MaxTension: 7, AvgNovelty: 5}, 7, 3, 4},
		{"late layer, history, novelty", Stats{AvgTension: 5, MaxTension: 7, AvgNovelty: 6}, 7, 3, 6},
		{"everything", Stats{AvgTension: 9, MaxTension: 10, AvgNovelty: 8}, 9, 8, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BreakthroughScore(tt.st, tt.layer, tt.prior)
			if got != tt.want {
				t.Errorf("score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSynthesize_BreakthroughThreshold(t *testing.T) {
	s := New(nil, false)

	// avgTension 6, maxTension 7, avgNovelty 6: score 4.
	four, err := s.Synthesize(context.Background(), Input{
		LayerNumber:   1,
		Focus:         "Foundational Analysis",
		Question:      "What is the nature of creativity?",
		Contributions: contributions([]int{6, 6, 6, 5, 7}, []int{6, 6, 6, 6, 6}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if four.BreakthroughTriggered {
		t.Error("score 4 should not trigger a breakthrough")
	}

	// avgTension 6, maxTension 8: score 5.
	five, err := s.Synthesize(context.Background(), Input{
		LayerNumber:   1,
		Focus:         "Foundational Analysis",
		Question:      "What is the nature of creativity?",
		Contributions: contributions([]int{6, 6, 4, 6, 8}, []int{4, 4, 4, 4, 4}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !five.BreakthroughTriggered {
		t.Error("score 5 should trigger a breakthrough")
	}
	if !strings.HasPrefix(five.Insight, "Layer 1 breaks through") {
		t.Errorf("insight = %q, want breakthrough template", five.Insight)
	}
	if five.EmergenceDetected {
		t.Error("emergence requires layer >= 6")
	}
}

func TestSynthesize_Metrics(t *testing.T) {
	s := New(nil, false)
	out, err := s.Synthesize(context.Background(), Input{
		LayerNumber:   7,
		Focus:         "Emergent Synthesis",
		Question:      "Why do we dream?",
		Contributions: contributions([]int{5, 5, 5, 5, 5}, []int{6, 6, 6, 6, 6}),
		PriorInsights: []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// score: novelty 2 + layer 3 + prior 1 = 6.
	if !out.BreakthroughTriggered || !out.EmergenceDetected {
		t.Errorf("breakthrough = %v emergence = %v, want both", out.BreakthroughTriggered, out.EmergenceDetected)
	}
	if out.TensionPoints != 7 {
		t.Errorf("tension = %d, want 5+2", out.TensionPoints)
	}
	if out.NoveltyScore != 7 {
		t.Errorf("novelty = %d, want 6+1", out.NoveltyScore)
	}
	if out.Confidence != 0.98 {
		t.Errorf("confidence = %v, want clamped 0.98", out.Confidence)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name  string
		layer int
		st    Stats
		bt    bool
		want  float64
	}{
		{"base", 1, Stats{AvgTension: 2, AvgNovelty: 0}, false, 0.675},
		{"tension band", 2, Stats{AvgTension: 5, AvgNovelty: 4}, false, 0.65 + 0.05 + 0.1 + 0.08},
		{"upper clamp", 10, Stats{AvgTension: 5, AvgNovelty: 8}, true, 0.98},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.layer, tt.st, tt.bt)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSynthesize_EmptyContributions(t *testing.T) {
	_, err := New(nil, false).Synthesize(context.Background(), Input{LayerNumber: 1})
	if !errors.Is(err, ErrNoContributions) {
		t.Errorf("err = %v, want ErrNoContributions", err)
	}
}

func TestSynthesize_UniquenessGuard(t *testing.T) {
	s := New(nil, false)
	in := Input{
		LayerNumber:   3,
		Focus:         "Tension Mapping",
		Question:      "What is the nature of creativity?",
		Contributions: contributions([]int{3, 4, 3, 4, 3}, []int{4, 4, 4, 4, 4}),
	}
	first, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	in.PriorInsights = []string{first.Insight}
	second, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if second.Insight == first.Insight {
		t.Fatal("repeated insight was not replaced")
	}
	if firstWords(second.Insight, 10) == firstWords(first.Insight, 10) {
		t.Error("replacement shares the 10-word prefix")
	}
	if !strings.Contains(second.Insight, "advances beyond previous analysis") {
		t.Errorf("insight = %q, want uniqueness fallback", second.Insight)
	}
}

func TestUniqueFallback_QuestionVerbatim(t *testing.T) {
	in := Input{LayerNumber: 4, Focus: "Tension Mapping", Question: `Is "art" a\b thing?`}
	if got := uniqueFallback(in); !strings.Contains(got, in.Question) {
		t.Errorf("question not verbatim in %q", got)
	}
}

func TestIsMachineTopic(t *testing.T) {
	tests := []struct {
		q    string
		want bool
	}{
		{"Can AI be creative?", true},
		{"Will robots replace teachers?", true},
		{"What is artificial intelligence for?", true},
		{"How do neural networks generalize?", true},
		{"What is the nature of creativity?", false},
		{"Is it fair to say so?", false},
	}
	for _, tt := range tests {
		if got := IsMachineTopic(tt.q); got != tt.want {
			t.Errorf("IsMachineTopic(%q) = %v, want %v", tt.q, got, tt.want)
		}
	}
}

func TestSynthesize_TopicBranch(t *testing.T) {
	s := New(nil, false)
	cs := contributions([]int{3, 3, 3, 3, 3}, []int{4, 4, 4, 4, 4})
	machine, _ := s.Synthesize(context.Background(), Input{LayerNumber: 2, Focus: "Pattern Recognition", Question: "Can a machine dream?", Contributions: cs})
	generic, _ := s.Synthesize(context.Background(), Input{LayerNumber: 2, Focus: "Pattern Recognition", Question: "Can a person dream?", Contributions: cs})
	if !strings.Contains(machine.Insight, "machine") {
		t.Errorf("machine insight = %q", machine.Insight)
	}
	if strings.Contains(generic.Insight, "machine") {
		t.Errorf("generic insight should not use machine template: %q", generic.Insight)
	}
}

func TestSynthesize_Completer(t *testing.T) {
	var system string
	ok := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		system = req.System
		return "A generated synthesis.", nil
	})
	in := Input{
		LayerNumber:   8,
		Focus:         "Paradigm Transcendence",
		Question:      "Can AI be wise?",
		Contributions: contributions([]int{9, 9, 9, 9, 9}, []int{7, 7, 7, 7, 7}),
	}
	out, err := New(ok, true).Synthesize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Insight != "A generated synthesis." {
		t.Errorf("insight = %q", out.Insight)
	}
	if !strings.Contains(system, "breakthrough") || !strings.Contains(system, "artificial intelligence") {
		t.Errorf("system prompt should reflect branch: %q", system)
	}

	failing := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", errors.New("network down")
	})
	if _, err := New(failing, true).Synthesize(context.Background(), in); !llm.IsCompletionError(err) {
		t.Errorf("strict err = %v, want *CompletionError", err)
	}
	lenient, err := New(failing, false).Synthesize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(lenient.Insight, "Can AI be wise?") {
		t.Errorf("lenient insight = %q, want template", lenient.Insight)
	}
}
