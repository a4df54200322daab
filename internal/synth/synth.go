// Package synth turns one layer's archetype contributions into a single
// synthesized insight with confidence, tension and novelty metrics.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/llm"
)

// ErrNoContributions is returned when a layer has nothing to synthesize.
var ErrNoContributions = errors.New("no contributions to synthesize")

const (
	breakthroughThreshold = 5
	prefixWords           = 10
)

// Input is one layer's worth of material for synthesis.
type Input struct {
	LayerNumber   int
	Focus         string
	Contributions []archetype.Contribution
	Question      string
	PriorInsights []string
}

// Synthesis is the synthesized outcome of a layer.
type Synthesis struct {
	Insight               string
	Confidence            float64
	TensionPoints         int
	NoveltyScore          int
	EmergenceDetected     bool
	BreakthroughTriggered bool
}

// Stats are the contribution aggregates the synthesis rules work from.
type Stats struct {
	AvgTension float64
	MaxTension int
	AvgNovelty float64
}

// Synthesizer produces layer syntheses. The completer, when set, writes the
// insight text for the chosen branch; the strict/lenient policy matches
// archetype.Responder.
type Synthesizer struct {
	completer llm.Completer
	strict    bool
}

// New creates a Synthesizer. c may be nil.
func New(c llm.Completer, strict bool) *Synthesizer {
	return &Synthesizer{completer: c, strict: strict}
}

// Synthesize combines in.Contributions into the layer's insight and metrics.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Synthesis, error) {
	if len(in.Contributions) == 0 {
		return Synthesis{}, ErrNoContributions
	}

	st := Aggregate(in.Contributions)
	bt := BreakthroughScore(st, in.LayerNumber, len(in.PriorInsights)) >= breakthroughThreshold
	machine := IsMachineTopic(in.Question)

	insight, err := s.insight(ctx, in, st, bt, machine)
	if err != nil {
		return Synthesis{}, err
	}
	if repeatsPrior(insight, in.PriorInsights) {
		insight = uniqueFallback(in)
	}

	tp := int(math.Round(st.AvgTension))
	if bt {
		tp += 2
	}
	np := int(math.Round(st.AvgNovelty))
	if in.LayerNumber > 5 {
		np++
	}

	return Synthesis{
		Insight:               insight,
		Confidence:            Confidence(in.LayerNumber, st, bt),
		TensionPoints:         clamp(tp, 0, 10),
		NoveltyScore:          clamp(np, 0, 10),
		EmergenceDetected:     in.LayerNumber >= 6 && bt,
		BreakthroughTriggered: bt,
	}, nil
}

// Aggregate computes mean and max tension and mean novelty.
func Aggregate(cs []archetype.Contribution) Stats {
	if len(cs) == 0 {
		return Stats{}
	}
	var st Stats
	var tSum, nSum int
	for _, c := range cs {
		tSum += c.TensionScore
		nSum += c.NoveltyScore
		st.MaxTension = max(st.MaxTension, c.TensionScore)
	}
	st.AvgTension = float64(tSum) / float64(len(cs))
	st.AvgNovelty = float64(nSum) / float64(len(cs))
	return st
}

// BreakthroughScore is the deterministic breakthrough rule. A score of 5 or
// more triggers a breakthrough.
func BreakthroughScore(st Stats, layerNumber, priorCount int) int {
	score := 0
	if st.AvgTension >= 6 {
		score += 2
	}
	if st.MaxTension >= 8 {
		score += 3
	}
	if st.AvgNovelty >= 6 {
		score += 2
	}
	if layerNumber >= 7 {
		score += 3
	}
	if priorCount >= 3 {
		score++
	}
	return score
}

// Confidence is clamped to [0.5, 0.98].
func Confidence(layerNumber int, st Stats, breakthrough bool) float64 {
	c := 0.65 + 0.025*float64(layerNumber) + 0.02*st.AvgNovelty
	if st.AvgTension >= 4 && st.AvgTension <= 7 {
		c += 0.1
	}
	if breakthrough {
		c += 0.15
	}
	return math.Max(0.5, math.Min(0.98, c))
}

var machineKeywords = []string{
	"ai", "artificial intelligence", "machine", "algorithm",
	"neural", "robot", "computer", "automation",
}

// IsMachineTopic reports whether question is about AI or machines.
// Single-word keywords must match whole words.
func IsMachineTopic(question string) bool {
	q := strings.ToLower(question)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		words[w] = true
		words[strings.TrimSuffix(w, "s")] = true
	}
	for _, k := range machineKeywords {
		if strings.Contains(k, " ") {
			if strings.Contains(q, k) {
				return true
			}
			continue
		}
		if words[k] {
			return true
		}
	}
	return false
}

func (s *Synthesizer) insight(ctx context.Context, in Input, st Stats, bt, machine bool) (string, error) {
	tmpl := renderTemplate(in, bt, machine)
	if s.completer == nil {
		return tmpl, nil
	}

	text, err := s.completer.Complete(ctx, llm.Request{
		System:      synthesisSystemPrompt(bt, machine),
		User:        synthesisUserPrompt(in, st),
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err == nil {
		return text, nil
	}
	if s.strict {
		if llm.IsCompletionError(err) {
			return "", err
		}
		return "", &llm.CompletionError{Provider: "synthesis", Err: err}
	}
	slog.Warn("synthesis completion failed, using template", "layer", in.LayerNumber, "error", err)
	return tmpl, nil
}

func repeatsPrior(insight string, prior []string) bool {
	p := firstWords(insight, prefixWords)
	if p == "" {
		return false
	}
	for _, old := range prior {
		if firstWords(old, prefixWords) == p {
			return true
		}
	}
	return false
}

func firstWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return strings.Join(f, " ")
}

func uniqueFallback(in Input) string {
	return fmt.Sprintf("Layer %d advances beyond previous analysis of “%s” by integrating %d perspectives through the lens of %s.",
		in.LayerNumber, in.Question, len(in.Contributions), strings.ToLower(in.Focus))
}

func synthesisSystemPrompt(bt, machine bool) string {
	var b strings.Builder
	b.WriteString("You synthesize five archetype perspectives (Visionary, Skeptic, Mystic, Contrarian, Realist) into one insight.\n")
	if bt {
		b.WriteString("The tension between them is high enough for a breakthrough: state the new idea that none of them said alone.\n")
	} else {
		b.WriteString("Advance the analysis one step: integrate the perspectives without claiming a breakthrough.\n")
	}
	if machine {
		b.WriteString("The question concerns machines or artificial intelligence; ground the insight in how such systems actually work.\n")
	}
	b.WriteString("Write three to five sentences of plain prose. Do not repeat earlier insights.")
	return b.String()
}

func synthesisUserPrompt(in Input, st Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Question)
	fmt.Fprintf(&b, "Layer %d, focus: %s\n", in.LayerNumber, in.Focus)
	fmt.Fprintf(&b, "Average tension %.1f, max tension %d, average novelty %.1f\n", st.AvgTension, st.MaxTension, st.AvgNovelty)
	b.WriteString("Perspectives:\n")
	for _, c := range in.Contributions {
		fmt.Fprintf(&b, "- %s: %s\n", c.Archetype, c.Response)
	}
	if len(in.PriorInsights) > 0 {
		fmt.Fprintf(&b, "Previous insight: %s\n", in.PriorInsights[len(in.PriorInsights)-1])
	}
	return b.String()
}

func placeholders(in Input) *strings.Replacer {
	lead, quiet := leadAndQuiet(in.Contributions)
	return strings.NewReplacer(
		"{question}", in.Question,
		"{focus}", strings.ToLower(in.Focus),
		"{layer}", strconv.Itoa(in.LayerNumber),
		"{lead}", string(lead),
		"{quiet}", string(quiet),
		"{count}", strconv.Itoa(len(in.Contributions)),
	)
}

// leadAndQuiet returns the archetypes with the highest and lowest tension.
// Ties keep the earliest contribution.
func leadAndQuiet(cs []archetype.Contribution) (archetype.Name, archetype.Name) {
	lead, quiet := cs[0], cs[0]
	for _, c := range cs[1:] {
		if c.TensionScore > lead.TensionScore {
			lead = c
		}
		if c.TensionScore < quiet.TensionScore {
			quiet = c
		}
	}
	return lead.Archetype, quiet.Archetype
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
