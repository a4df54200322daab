// Package compress renders a final insight as three compressed formats plus
// an insight-strength rating.
package compress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/genius/internal/llm"
)

// Length selects the word caps for the three formats.
type Length string

const (
	Short  Length = "short"
	Medium Length = "medium"
	Long   Length = "long"
)

// OutputType selects the instruction template used for compression.
type OutputType string

const (
	Practical     OutputType = "practical"
	Theoretical   OutputType = "theoretical"
	Philosophical OutputType = "philosophical"
	Abstract      OutputType = "abstract"
)

// Settings are caller-supplied compression preferences.
type Settings struct {
	Length             Length `json:"length,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// Rating is the 1..6 insight-strength rating.
type Rating struct {
	Score         int    `json:"score"`
	Category      string `json:"category"`
	Justification string `json:"justification"`
}

// Formats are the three compressed renderings of an insight.
type Formats struct {
	UltraConcise  string  `json:"ultraConcise"`
	Medium        string  `json:"medium"`
	Comprehensive string  `json:"comprehensive"`
	InsightRating *Rating `json:"insightRating,omitempty"`
}

// Caps are the word ceilings for the three formats.
type Caps struct {
	Ultra, Medium, Comprehensive int
}

var wordCaps = map[Length]Caps{
	Short:  {10, 30, 60},
	Medium: {20, 60, 120},
	Long:   {40, 120, 250},
}

var instructions = map[OutputType]string{
	Practical:     "Focus on actionable takeaways: what someone should do differently after reading this.",
	Theoretical:   "Focus on the underlying model: the mechanisms, assumptions and predictions the insight implies.",
	Philosophical: "Focus on meaning: what the insight says about knowledge, value or human experience.",
	Abstract:      "Focus on structure: express the insight as a general pattern that transfers to other domains.",
}

// ValidLength reports whether l is a known length.
func ValidLength(l Length) bool {
	_, ok := wordCaps[l]
	return ok
}

// ValidOutputType reports whether t is a known output type.
func ValidOutputType(t OutputType) bool {
	_, ok := instructions[t]
	return ok
}

// WordCaps returns the word ceilings for l, defaulting to medium.
func WordCaps(l Length) Caps {
	if c, ok := wordCaps[l]; ok {
		return c
	}
	return wordCaps[Medium]
}

// Formatter compresses insights with a completer and falls back to a local
// formatter when none is configured or the call fails.
type Formatter struct {
	completer llm.Completer
	cache     *lru.Cache[string, Formats]
}

// New creates a Formatter. c may be nil. cacheSize <= 0 disables caching.
func New(c llm.Completer, cacheSize int) (*Formatter, error) {
	f := &Formatter{completer: c}
	if cacheSize > 0 {
		cache, err := lru.New[string, Formats](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating compression cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

// Compress never fails: any completion or parsing problem yields Fallback.
func (f *Formatter) Compress(ctx context.Context, insight, question string, s Settings, out OutputType) Formats {
	if f.completer == nil {
		return Fallback(insight)
	}

	key := cacheKey(insight, question, s, out)
	if f.cache != nil {
		if v, ok := f.cache.Get(key); ok {
			return v
		}
	}

	text, err := f.completer.Complete(ctx, llm.Request{
		System:      systemPrompt(s, out),
		User:        fmt.Sprintf("Original question: %s\n\nInsight:\n%s", question, insight),
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("compression completion failed, using local formatter", "error", err)
		return Fallback(insight)
	}

	formats, err := Parse(text)
	if err != nil {
		slog.Warn("compression response unusable, using local formatter", "error", err)
		return Fallback(insight)
	}
	if f.cache != nil {
		f.cache.Add(key, formats)
	}
	return formats
}

// Parse extracts Formats from a completion that should contain a JSON object,
// possibly wrapped in markdown fences or surrounding prose.
func Parse(text string) (Formats, error) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Formats{}, fmt.Errorf("no JSON object in response")
	}

	var out Formats
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return Formats{}, fmt.Errorf("decoding compression JSON: %w", err)
	}
	if strings.TrimSpace(out.UltraConcise) == "" || strings.TrimSpace(out.Medium) == "" || strings.TrimSpace(out.Comprehensive) == "" {
		return Formats{}, fmt.Errorf("compression JSON missing required fields")
	}
	if out.InsightRating != nil {
		out.InsightRating.Score = max(1, min(6, out.InsightRating.Score))
	}
	return out, nil
}

func systemPrompt(s Settings, out OutputType) string {
	caps := WordCaps(s.Length)
	instr, ok := instructions[out]
	if !ok {
		instr = instructions[Practical]
	}

	var b strings.Builder
	b.WriteString("You compress an insight into three formats without losing its core idea.\n")
	fmt.Fprintf(&b, "ultraConcise: at most %d words.\n", caps.Ultra)
	fmt.Fprintf(&b, "medium: at most %d words.\n", caps.Medium)
	fmt.Fprintf(&b, "comprehensive: at most %d words.\n", caps.Comprehensive)
	b.WriteString(instr + "\n")
	if s.CustomInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", s.CustomInstructions)
	}
	b.WriteString("Also rate the insight's strength from 1 (trivial) to 6 (paradigm-shifting) with a category and a one-sentence justification.\n")
	b.WriteString(`Respond with JSON only: {"ultraConcise":"...","medium":"...","comprehensive":"...","insightRating":{"score":1,"category":"...","justification":"..."}}`)
	return b.String()
}

func cacheKey(insight, question string, s Settings, out OutputType) string {
	h := sha256.New()
	for _, part := range []string{insight, question, string(s.Length), s.CustomInstructions, string(out)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
