package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, bold.Sprint("Insight"))
	fmt.Fprintf(w, "  %s\n\n", res.Insight)
	fmt.Fprintf(w, "  %s %.2f  %s %d  %s %d  %s %s\n",
		bold.Sprint("confidence"), res.Confidence,
		bold.Sprint("tension"), res.TensionPoints,
		bold.Sprint("novelty"), res.NoveltyScore,
		bold.Sprint("emergence"), yesNo(res.EmergenceDetected))
	fmt.Fprintf(w, "  %s %s, %d layers\n", bold.Sprint("circuit"), res.CircuitType, res.ProcessingDepth)

	if f := res.CompressionFormats; f != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Sprint("Compressed"))
		fmt.Fprintf(w, "  %s %s\n", cyan.Sprint("ultra:"), f.UltraConcise)
		fmt.Fprintf(w, "  %s %s\n", cyan.Sprint("medium:"), f.Medium)
		fmt.Fprintf(w, "  %s %s\n", cyan.Sprint("comprehensive:"), f.Comprehensive)
		if r := f.InsightRating; r != nil {
			fmt.Fprintf(w, "  %s %d/6 %s: %s\n", cyan.Sprint("rating:"), r.Score, r.Category, r.Justification)
		}
	}

	if q := res.QuestionQuality; q != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Sprint("Question quality"))
		fmt.Fprintf(w, "  overall %.1f (yield %d, balance %d, meta %d, effort %d)\n",
			q.OverallScore, q.GeniusYield, q.ConstraintBalance, q.MetaPotential, q.EffortVsEmergence)
		fmt.Fprintf(w, "  %s\n", q.Feedback)
		for _, r := range q.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}

func printJob(w io.Writer, job *jobs.Job) {
	fmt.Fprintf(w, "%s %s\n", bold.Sprint("Job"), job.ID)
	fmt.Fprintf(w, "  status:   %s\n", statusColor(job.Status))
	fmt.Fprintf(w, "  question: %s\n", job.Question)
	fmt.Fprintf(w, "  depth:    %d (%s)\n", job.ProcessingDepth, job.CircuitType)
	p := job.Progress
	if p.TotalLayers > 0 {
		fmt.Fprintf(w, "  progress: layer %d/%d, chunk %d/%d, %s\n",
			p.CurrentLayer, p.TotalLayers, p.Chunk.Current, p.Chunk.Total, p.Phase)
	}
	if len(job.Results) > 0 {
		labels := make([]string, len(job.Results))
		for i, r := range job.Results {
			labels[i] = r.Label
		}
		fmt.Fprintf(w, "  chunks:   %s\n", strings.Join(labels, ", "))
	}
	if job.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", red.Sprint(job.Error))
	}
	if job.FinalResults != nil {
		fmt.Fprintln(w)
		printResult(w, job.FinalResults)
	}
}

func statusColor(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return green.Sprint(s)
	case jobs.StatusFailed:
		return red.Sprint(s)
	case jobs.StatusCancelled:
		return yellow.Sprint(s)
	default:
		return cyan.Sprint(s)
	}
}

func printArchetypes(w io.Writer, set []archetype.Archetype) {
	for _, a := range set {
		p := a.Personality
		fmt.Fprintf(w, "%s  imagination %d, skepticism %d, aggression %d, emotionality %d, style %s\n",
			bold.Sprintf("%-10s", a.Name), p.Imagination, p.Skepticism, p.Aggression, p.Emotionality, a.LanguageStyle)
		if a.Constraint != "" {
			fmt.Fprintf(w, "            constraint: %s\n", a.Constraint)
		}
	}
}
