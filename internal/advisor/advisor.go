// Package advisor suggests run configurations from past run metrics. Its
// output is advisory; the pipeline never depends on it.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/genius/internal/pipeline"
)

// RunRecord is the metrics summary of one finished run.
type RunRecord struct {
	ID           string               `json:"id"`
	Question     string               `json:"question"`
	QuestionType string               `json:"questionType"`
	Depth        int                  `json:"depth"`
	Circuit      pipeline.CircuitType `json:"circuit"`
	Enhanced     bool                 `json:"enhanced"`
	Confidence   float64              `json:"confidence"`
	Tension      int                  `json:"tension"`
	Novelty      int                  `json:"novelty"`
	Emergence    bool                 `json:"emergence"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// Config is a configuration that has worked for a question type.
type Config struct {
	Depth         int                  `json:"depth"`
	Circuit       pipeline.CircuitType `json:"circuit"`
	Enhanced      bool                 `json:"enhanced"`
	AvgConfidence float64              `json:"avgConfidence"`
	Runs          int                  `json:"runs"`
}

// MetricsStore persists run records.
type MetricsStore interface {
	RecordRun(ctx context.Context, r RunRecord) error
	// FindSimilar returns up to limit past runs ranked by Similarity to
	// question.
	FindSimilar(ctx context.Context, question string, limit int) ([]RunRecord, error)
	// BestConfigFor returns the best-scoring configuration for a question
	// type, or nil when there is no history.
	BestConfigFor(ctx context.Context, questionType string) (*Config, error)
}

// Recommendation is a suggested starting configuration.
type Recommendation struct {
	QuestionType    string               `json:"questionType"`
	ProcessingDepth int                  `json:"processingDepth"`
	CircuitType     pipeline.CircuitType `json:"circuitType"`
	EnhancedMode    bool                 `json:"enhancedMode"`
	Reason          string               `json:"reason"`
	SimilarRuns     []RunRecord          `json:"similarRuns,omitempty"`
}

const minHistoryRuns = 2

// Advisor recommends configurations. A nil store yields heuristics only.
type Advisor struct {
	store MetricsStore
}

// New creates an Advisor backed by store, which may be nil.
func New(store MetricsStore) *Advisor {
	return &Advisor{store: store}
}

// Record stores the metrics of a finished run. Failures are logged only.
func (a *Advisor) Record(ctx context.Context, req pipeline.Request, res *pipeline.Result) {
	if a.store == nil || res == nil {
		return
	}
	rec := RunRecord{
		ID:           uuid.New().String(),
		Question:     req.Question,
		QuestionType: ClassifyQuestion(req.Question),
		Depth:        res.ProcessingDepth,
		Circuit:      res.CircuitType,
		Enhanced:     req.EnhancedMode,
		Confidence:   res.Confidence,
		Tension:      res.TensionPoints,
		Novelty:      res.NoveltyScore,
		Emergence:    res.EmergenceDetected,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.RecordRun(ctx, rec); err != nil {
		slog.Warn("recording run metrics failed", "error", err)
	}
}

// Recommend suggests a configuration for question.
func (a *Advisor) Recommend(ctx context.Context, question string) (Recommendation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Recommendation{}, &pipeline.InvalidInputError{Field: "question", Reason: "must not be empty"}
	}
	qt := ClassifyQuestion(question)
	rec := heuristic(qt)

	if a.store == nil {
		return rec, nil
	}

	best, err := a.store.BestConfigFor(ctx, qt)
	if err != nil {
		return Recommendation{}, fmt.Errorf("loading best config: %w", err)
	}
	if best != nil && best.Runs >= minHistoryRuns {
		rec.ProcessingDepth = best.Depth
		rec.CircuitType = best.Circuit
		rec.EnhancedMode = best.Enhanced
		rec.Reason = fmt.Sprintf("best average confidence %.2f over %d previous %s runs", best.AvgConfidence, best.Runs, qt)
	}

	similar, err := a.store.FindSimilar(ctx, question, 5)
	if err != nil {
		return Recommendation{}, fmt.Errorf("finding similar runs: %w", err)
	}
	rec.SimilarRuns = similar
	for _, s := range similar {
		if s.Emergence && s.Depth > rec.ProcessingDepth {
			rec.ProcessingDepth = s.Depth
			rec.Reason += fmt.Sprintf("; a similar question reached emergence at depth %d", s.Depth)
		}
	}
	return rec, nil
}

func heuristic(qt string) Recommendation {
	r := Recommendation{QuestionType: qt, ProcessingDepth: 3, CircuitType: pipeline.Sequential}
	switch qt {
	case TypePhilosophical:
		r.ProcessingDepth, r.CircuitType, r.EnhancedMode = 6, pipeline.Recursive, true
	case TypeCreative:
		r.ProcessingDepth, r.CircuitType, r.EnhancedMode = 5, pipeline.Parallel, true
	case TypeScientific:
		r.ProcessingDepth, r.CircuitType = 5, pipeline.Hybrid
	case TypeTechnical:
		r.ProcessingDepth = 4
	}
	r.Reason = fmt.Sprintf("default for %s questions", qt)
	return r
}

// Question types.
const (
	TypePhilosophical = "philosophical"
	TypeTechnical     = "technical"
	TypeCreative      = "creative"
	TypePractical     = "practical"
	TypeScientific    = "scientific"
	TypeGeneral       = "general"
)

var typeKeywords = []struct {
	qt       string
	keywords []string
}{
	{TypePhilosophical, []string{"meaning", "conscious", "exist", "truth", "moral", "ethic", "free will", "reality", "nature of", "soul"}},
	{TypeTechnical, []string{"code", "software", "algorithm", "system", " ai", "machine", "computer", "data", "network"}},
	{TypeCreative, []string{"creativ", "art", "design", "imagin", "story", "music", "invent"}},
	{TypePractical, []string{"how to", "how do i", "should i", "plan", "improve", "best way", "strategy"}},
	{TypeScientific, []string{"universe", "physics", "biology", "evolution", "energy", "quantum", "why do"}},
}

// ClassifyQuestion assigns question to the type with the most keyword hits.
// Ties go to the earlier type.
func ClassifyQuestion(question string) string {
	q := " " + strings.ToLower(question)
	best, bestHits := TypeGeneral, 0
	for _, tk := range typeKeywords {
		hits := 0
		for _, k := range tk.keywords {
			if strings.Contains(q, k) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = tk.qt, hits
		}
	}
	return best
}

// Similarity is the Jaccard index of the word sets of a and b.
func Similarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(wa)+len(wb)-inter)
}

// RankSimilar orders runs by similarity to question, dropping those below
// minScore, and keeps at most limit.
func RankSimilar(question string, runs []RunRecord, minScore float64, limit int) []RunRecord {
	type scored struct {
		r RunRecord
		s float64
	}
	var ss []scored
	for _, r := range runs {
		if s := Similarity(question, r.Question); s >= minScore {
			ss = append(ss, scored{r, s})
		}
	}
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].s > ss[j].s })
	out := make([]RunRecord, 0, min(limit, len(ss)))
	for i := 0; i < len(ss) && i < limit; i++ {
		out = append(out, ss[i].r)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "of": true, "to": true, "and": true,
	"in": true, "what": true, "how": true, "why": true, "do": true, "does": true, "it": true,
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if !stopWords[w] {
			out[w] = true
		}
	}
	return out
}
