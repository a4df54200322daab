package pipeline

import (
	"math"

	"github.com/kalambet/genius/internal/archetype"
)

// Assess derives the question-quality block from a finished result.
func Assess(res *Result, enhanced bool, set []archetype.Archetype) *Quality {
	s := Summarize(res.Layers)
	q := &Quality{}

	switch {
	case s.EmergenceDetected:
		q.GeniusYield = 9
	case s.AnyBreakthrough:
		q.GeniusYield = 8
	default:
		q.GeniusYield = 7
	}

	q.ConstraintBalance = 6
	if enhanced {
		q.ConstraintBalance = 8
	}
	for _, a := range set {
		if a.Constraint != "" {
			q.ConstraintBalance++
			break
		}
	}

	switch {
	case res.ProcessingDepth >= 7:
		q.MetaPotential = 9
	case res.ProcessingDepth >= 4:
		q.MetaPotential = 7
	default:
		q.MetaPotential = 5
	}

	switch {
	case s.EmergenceDetected:
		q.EffortVsEmergence = 9
	case s.AnyBreakthrough:
		q.EffortVsEmergence = 7
	default:
		q.EffortVsEmergence = 5
	}

	mean := float64(q.GeniusYield+q.ConstraintBalance+q.MetaPotential+q.EffortVsEmergence) / 4
	q.OverallScore = math.Round(mean*10) / 10

	switch {
	case q.OverallScore >= 8.5:
		q.Feedback = "Exceptional question: the circuit reached emergent insight."
	case q.OverallScore >= 7:
		q.Feedback = "Strong question with productive tension between archetypes."
	default:
		q.Feedback = "Solid question; deeper processing may reveal more."
	}

	q.Recommendations = []string{}
	if res.ProcessingDepth < 6 {
		q.Recommendations = append(q.Recommendations, "Increase processing depth to 6 or more to allow emergence.")
	}
	if !enhanced {
		q.Recommendations = append(q.Recommendations, "Enable enhanced mode for stronger constraint balance.")
	}
	if !s.AnyBreakthrough {
		q.Recommendations = append(q.Recommendations, "Reframe the question to invite more disagreement between archetypes.")
	}
	if res.CircuitType != Hybrid && !s.EmergenceDetected {
		q.Recommendations = append(q.Recommendations, "Try the hybrid circuit to combine parallel and sequential reasoning.")
	}
	return q
}
