package pipeline

import (
	"time"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/compress"
)

const (
	MinDepth = 1
	MaxDepth = 30
)

// CircuitType is the requested topology. Parallel and hybrid draft the five
// archetype responses concurrently; the others draft them in order.
type CircuitType string

const (
	Sequential CircuitType = "sequential"
	Parallel   CircuitType = "parallel"
	Recursive  CircuitType = "recursive"
	Hybrid     CircuitType = "hybrid"
)

// Valid reports whether c is a known circuit type.
func (c CircuitType) Valid() bool {
	switch c {
	case Sequential, Parallel, Recursive, Hybrid:
		return true
	}
	return false
}

func (c CircuitType) concurrent() bool {
	return c == Parallel || c == Hybrid
}

// Request is what a caller submits to start a run.
type Request struct {
	Question            string                `json:"question"`
	ProcessingDepth     int                   `json:"processingDepth"`
	CircuitType         CircuitType           `json:"circuitType"`
	EnhancedMode        bool                  `json:"enhancedMode"`
	CustomArchetypes    []archetype.Archetype `json:"customArchetypes,omitempty"`
	OutputType          compress.OutputType   `json:"outputType,omitempty"`
	CompressionSettings *compress.Settings    `json:"compressionSettings,omitempty"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed uint64 `json:"seed,omitempty"`
}

// Layer is one full round of contributions plus its synthesized insight.
type Layer struct {
	LayerNumber           int                      `json:"layerNumber"`
	Focus                 string                   `json:"focus"`
	Insight               string                   `json:"insight"`
	Confidence            float64                  `json:"confidence"`
	TensionPoints         int                      `json:"tensionPoints"`
	NoveltyScore          int                      `json:"noveltyScore"`
	EmergenceDetected     bool                     `json:"emergenceDetected"`
	BreakthroughTriggered bool                     `json:"breakthroughTriggered"`
	ArchetypeResponses    []archetype.Contribution `json:"archetypeResponses"`
	Timestamp             time.Time                `json:"timestamp"`
}

// TrailEntry is a logic-trail contribution tagged with its layer.
type TrailEntry struct {
	archetype.Contribution
	LayerNumber int `json:"layerNumber"`
}

// Quality is the derived question-quality summary.
type Quality struct {
	GeniusYield       int      `json:"geniusYield"`
	ConstraintBalance int      `json:"constraintBalance"`
	MetaPotential     int      `json:"metaPotential"`
	EffortVsEmergence int      `json:"effortVsEmergence"`
	OverallScore      float64  `json:"overallScore"`
	Feedback          string   `json:"feedback"`
	Recommendations   []string `json:"recommendations"`
}

// Result is the terminal aggregate of a run.
type Result struct {
	Layers             []Layer           `json:"layers"`
	Insight            string            `json:"insight"`
	Confidence         float64           `json:"confidence"`
	TensionPoints      int               `json:"tensionPoints"`
	NoveltyScore       int               `json:"noveltyScore"`
	EmergenceDetected  bool              `json:"emergenceDetected"`
	CircuitType        CircuitType       `json:"circuitType"`
	ProcessingDepth    int               `json:"processingDepth"`
	LogicTrail         []TrailEntry      `json:"logicTrail"`
	CompressionFormats *compress.Formats `json:"compressionFormats,omitempty"`
	QuestionQuality    *Quality          `json:"questionQuality,omitempty"`
}

// Trail flattens the contributions of layers into a logic trail in layer
// and archetype order.
func Trail(layers []Layer) []TrailEntry {
	var out []TrailEntry
	for _, l := range layers {
		for _, c := range l.ArchetypeResponses {
			out = append(out, TrailEntry{Contribution: c, LayerNumber: l.LayerNumber})
		}
	}
	return out
}

// Insights returns the insight text of each layer in order.
func Insights(layers []Layer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = l.Insight
	}
	return out
}
