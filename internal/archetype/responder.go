package archetype

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/genius/internal/llm"
)

const (
	tensionGate       = 0.7
	noveltyProbeRunes = 50
	maxPromptInsights = 3
)

// Contribution is one archetype's immutable response within a layer.
type Contribution struct {
	Archetype    Name      `json:"archetype"`
	Response     string    `json:"response"`
	TensionScore int       `json:"tensionScore"`
	NoveltyScore int       `json:"noveltyScore"`
	Timestamp    time.Time `json:"timestamp"`
}

// Request carries everything an archetype sees when it responds.
type Request struct {
	Question      string
	LayerNumber   int
	LayerFocus    string
	Archetype     Archetype
	PriorInsights []string
	Siblings      []Contribution
}

// Rand is the random source that gates the tension prefix.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Responder produces archetype contributions. Without a completer it renders
// the archetype's templates. With one, the completer writes the body text;
// when it fails a lenient responder falls back to the template and a strict
// one returns the *llm.CompletionError.
type Responder struct {
	completer llm.Completer
	strict    bool
	now       func() time.Time
}

// NewResponder creates a Responder. c may be nil.
func NewResponder(c llm.Completer, strict bool) *Responder {
	return &Responder{completer: c, strict: strict, now: time.Now}
}

// Respond drafts and finishes a contribution in one step.
func (r *Responder) Respond(ctx context.Context, req Request, rnd Rand) (Contribution, error) {
	draft, err := r.Draft(ctx, req)
	if err != nil {
		return Contribution{}, err
	}
	return r.Finish(draft, req, rnd), nil
}

// Draft produces the body text of a contribution. It reads req only and is
// safe to call concurrently for different archetypes of the same layer.
func (r *Responder) Draft(ctx context.Context, req Request) (string, error) {
	if err := checkRequest(req); err != nil {
		return "", err
	}
	strategy, _ := StrategyFor(req.Archetype.Name)
	tmpl := strategy.Render(req.LayerNumber, req.Question, req.LayerFocus)
	if r.completer == nil {
		return tmpl, nil
	}

	text, err := r.completer.Complete(ctx, llm.Request{
		System:      systemPrompt(req.Archetype),
		User:        userPrompt(req),
		MaxTokens:   220,
		Temperature: 0.3 + float64(req.Archetype.Personality.Imagination)/20,
	})
	if err == nil {
		return text, nil
	}
	if r.strict {
		if llm.IsCompletionError(err) {
			return "", err
		}
		return "", &llm.CompletionError{Provider: "archetype", Err: err}
	}
	slog.Warn("archetype completion failed, using template",
		"archetype", req.Archetype.Name, "layer", req.LayerNumber, "error", err)
	return tmpl, nil
}

// Finish applies the tension prefix and flavor suffix to draft and scores
// the result. It draws from rnd at most once, so calling it in canonical
// archetype order keeps runs reproducible.
func (r *Responder) Finish(draft string, req Request, rnd Rand) Contribution {
	strategy, _ := StrategyFor(req.Archetype.Name)

	text := draft
	if len(req.Siblings) > 0 && rnd != nil && rnd.Float64() < tensionGate {
		phrase := tensionPhrases[len(req.Siblings)%len(tensionPhrases)]
		text = phrase + lowerFirst(text)
	}
	text += strategy.Flavor

	return Contribution{
		Archetype:    req.Archetype.Name,
		Response:     text,
		TensionScore: TensionScore(req.Archetype.Personality.Aggression, text, len(req.Siblings) > 0),
		NoveltyScore: NoveltyScore(req.LayerNumber, text, req.PriorInsights),
		Timestamp:    r.now(),
	}
}

// TensionScore is aggression plus 2 per disagreement keyword in text, plus 3
// when other archetypes already spoke this layer, clamped to [0,10].
func TensionScore(aggression int, text string, hasSiblings bool) int {
	score := aggression + 2*countDisagreements(text)
	if hasSiblings {
		score += 3
	}
	return clamp(score, 0, 10)
}

// NoveltyScore is 3 + min(4, layer), minus 3 when the opening of text already
// appears in a prior insight, clamped to [1,10].
func NoveltyScore(layerNumber int, text string, priorInsights []string) int {
	score := 3 + min(4, layerNumber)
	probe := []rune(text)
	if len(probe) > noveltyProbeRunes {
		probe = probe[:noveltyProbeRunes]
	}
	if p := string(probe); p != "" {
		for _, prior := range priorInsights {
			if strings.Contains(prior, p) {
				score -= 3
				break
			}
		}
	}
	return clamp(score, 1, 10)
}

func checkRequest(req Request) error {
	if !req.Archetype.Name.Valid() {
		return fmt.Errorf("%w: unknown archetype %q", ErrInvalid, req.Archetype.Name)
	}
	if req.LayerNumber < 1 {
		return fmt.Errorf("%w: layer number %d, must be >= 1", ErrInvalid, req.LayerNumber)
	}
	return nil
}

func systemPrompt(a Archetype) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s, one of five voices in a layered reasoning circuit.\n", a.Name)
	fmt.Fprintf(&b, "Personality (1-10): imagination %d, skepticism %d, aggression %d, emotionality %d.\n",
		a.Personality.Imagination, a.Personality.Skepticism, a.Personality.Aggression, a.Personality.Emotionality)
	fmt.Fprintf(&b, "Language style: %s.\n", a.LanguageStyle)
	if a.Constraint != "" {
		fmt.Fprintf(&b, "Constraint: %s.\n", a.Constraint)
	}
	b.WriteString("Answer in two or three sentences of plain prose. No lists, no headings, no preamble.")
	return b.String()
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Layer %d, focus: %s\n", req.LayerNumber, req.LayerFocus)

	prior := req.PriorInsights
	if len(prior) > maxPromptInsights {
		prior = prior[len(prior)-maxPromptInsights:]
	}
	if len(prior) > 0 {
		b.WriteString("Insights from earlier layers:\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	b.WriteString("Give your perspective on this layer.")
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	// "I" and "I'm" stay capitalized.
	if r[0] >= 'A' && r[0] <= 'Z' && !(len(r) > 1 && (r[1] == ' ' || r[1] == '\'')) {
		r[0] += 'a' - 'A'
	}
	return string(r)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
