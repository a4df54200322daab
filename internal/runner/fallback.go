package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/pipeline"
)

// FallbackLayers synthesizes placeholder layers for [start, end] after a
// chunk failure.
func FallbackLayers(question string, start, end int) []pipeline.Layer {
	now := time.Now()
	out := make([]pipeline.Layer, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, pipeline.Layer{
			LayerNumber: n,
			Focus:       pipeline.LayerFocus(n),
			Insight: fmt.Sprintf("Layer %d synthesis: even when primary processing encounters difficulties, the inquiry into “%s” continues by carrying forward the perspectives gathered so far.",
				n, question),
			Confidence:         0.6,
			TensionPoints:      min(n, 4),
			NoveltyScore:       min(n+2, 8),
			EmergenceDetected:  n > 8,
			ArchetypeResponses: []archetype.Contribution{},
			Timestamp:          now,
		})
	}
	return out
}

// BreakthroughPotential is the 0..100 progress metric shown while a chunked
// run proceeds. It is independent of per-layer emergence.
func BreakthroughPotential(layers []pipeline.Layer, totalDepth int) int {
	if totalDepth <= 0 {
		return 0
	}
	completion := float64(len(layers)) / float64(totalDepth)
	score := 40*completion +
		math.Min(30, 3*float64(len(layers))) +
		math.Min(20, 5*averageTension(layers))
	for _, l := range layers {
		if l.EmergenceDetected {
			score += 15
			break
		}
	}
	return max(0, min(100, int(math.Round(score))))
}

// FinalSynthesis narrates a chunked run.
func FinalSynthesis(question string, layers []pipeline.Layer, potential int) string {
	var last string
	if len(layers) > 0 {
		last = " " + layers[len(layers)-1].Insight
	}
	if potential >= 70 {
		return fmt.Sprintf("Breakthrough synthesis achieved across %d layers: “%s” was carried through every archetype until its tensions resolved into a new frame.%s",
			len(layers), question, last)
	}
	return fmt.Sprintf("Progressive synthesis across %d layers of “%s”: each layer refined the last without a decisive break.%s",
		len(layers), question, last)
}

func averageTension(layers []pipeline.Layer) float64 {
	if len(layers) == 0 {
		return 0
	}
	sum := 0
	for _, l := range layers {
		sum += l.TensionPoints
	}
	return float64(sum) / float64(len(layers))
}
