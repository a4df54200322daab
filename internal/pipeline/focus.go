package pipeline

import "fmt"

var layerFocuses = []string{
	"Foundational Analysis",
	"Pattern Recognition",
	"Tension Mapping",
	"Perspective Integration",
	"Assumption Inversion",
	"Emergent Synthesis",
	"Meta-Cognitive Reflection",
	"Paradigm Transcendence",
	"Systemic Reframing",
	"Boundary Dissolution",
}

// LayerFocus names the focus of layer n. Layers past the named list cycle
// through it with a depth marker.
func LayerFocus(n int) string {
	if n < 1 {
		n = 1
	}
	i := (n - 1) % len(layerFocuses)
	if n <= len(layerFocuses) {
		return layerFocuses[i]
	}
	return fmt.Sprintf("%s (depth %d)", layerFocuses[i], n)
}
