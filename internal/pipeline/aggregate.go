package pipeline

import (
	"fmt"
	"math"
)

// Summary holds the run-level metrics aggregated over layers.
type Summary struct {
	Confidence        float64
	TensionPoints     int
	NoveltyScore      int
	EmergenceDetected bool
	AnyBreakthrough   bool
}

// Summarize aggregates layers: confidence is the mean capped at 0.98,
// tension the sum capped at 10, novelty the max.
func Summarize(layers []Layer) Summary {
	var s Summary
	if len(layers) == 0 {
		return s
	}
	var conf float64
	for _, l := range layers {
		conf += l.Confidence
		s.TensionPoints += l.TensionPoints
		s.NoveltyScore = max(s.NoveltyScore, l.NoveltyScore)
		s.EmergenceDetected = s.EmergenceDetected || l.EmergenceDetected
		s.AnyBreakthrough = s.AnyBreakthrough || l.BreakthroughTriggered
	}
	s.Confidence = math.Min(0.98, conf/float64(len(layers)))
	s.TensionPoints = min(10, s.TensionPoints)
	return s
}

// FinalInsight narrates a run: emergence takes precedence over a
// breakthrough, and otherwise the last layer is synthesized progressively.
func FinalInsight(question string, layers []Layer) string {
	if len(layers) == 0 {
		return ""
	}
	last := layers[len(layers)-1]
	for _, l := range layers {
		if l.EmergenceDetected {
			return fmt.Sprintf("Emergence across %d layers of “%s”: at layer %d the archetypes' tension produced an insight none of them held alone. %s",
				len(layers), question, l.LayerNumber, l.Insight)
		}
	}
	for _, l := range layers {
		if l.BreakthroughTriggered {
			return fmt.Sprintf("After %d layers on “%s”, a breakthrough at layer %d reshaped the inquiry. %s",
				len(layers), question, l.LayerNumber, last.Insight)
		}
	}
	return fmt.Sprintf("Progressive synthesis of “%s” over %d layers. %s", question, len(layers), last.Insight)
}

// Assemble builds the result of a direct run from its layers.
func Assemble(req Request, layers []Layer) *Result {
	return NewResult(req, layers, FinalInsight(req.Question, layers))
}

// NewResult builds a result with the given narrative insight.
func NewResult(req Request, layers []Layer, insight string) *Result {
	s := Summarize(layers)
	if layers == nil {
		layers = []Layer{}
	}
	return &Result{
		Layers:            layers,
		Insight:           insight,
		Confidence:        s.Confidence,
		TensionPoints:     s.TensionPoints,
		NoveltyScore:      s.NoveltyScore,
		EmergenceDetected: s.EmergenceDetected,
		CircuitType:       req.CircuitType,
		ProcessingDepth:   req.ProcessingDepth,
		LogicTrail:        Trail(layers),
	}
}
