package archetype

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Name identifies one of the five fixed archetypes.
type Name string

const (
	Visionary  Name = "Visionary"
	Skeptic    Name = "Skeptic"
	Mystic     Name = "Mystic"
	Contrarian Name = "Contrarian"
	Realist    Name = "Realist"
)

// Order is the canonical order in which archetypes contribute to a layer.
var Order = []Name{Visionary, Skeptic, Mystic, Contrarian, Realist}

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid archetype configuration")

// Personality holds the four numeric traits, each in [1,10].
type Personality struct {
	Imagination  int `json:"imagination" yaml:"imagination"`
	Skepticism   int `json:"skepticism" yaml:"skepticism"`
	Aggression   int `json:"aggression" yaml:"aggression"`
	Emotionality int `json:"emotionality" yaml:"emotionality"`
}

// Archetype is the per-run, read-only configuration of one persona.
type Archetype struct {
	Name          Name        `json:"name" yaml:"name"`
	Personality   Personality `json:"personality" yaml:"personality"`
	LanguageStyle string      `json:"languageStyle" yaml:"language_style"`
	Constraint    string      `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

// Valid reports whether n is one of the five fixed names.
func (n Name) Valid() bool {
	for _, o := range Order {
		if n == o {
			return true
		}
	}
	return false
}

// Defaults returns the built-in archetype set in canonical order.
func Defaults() []Archetype {
	return []Archetype{
		{Name: Visionary, Personality: Personality{Imagination: 9, Skepticism: 3, Aggression: 4, Emotionality: 7}, LanguageStyle: "expansive"},
		{Name: Skeptic, Personality: Personality{Imagination: 3, Skepticism: 9, Aggression: 6, Emotionality: 2}, LanguageStyle: "analytical"},
		{Name: Mystic, Personality: Personality{Imagination: 10, Skepticism: 2, Aggression: 2, Emotionality: 9}, LanguageStyle: "metaphorical"},
		{Name: Contrarian, Personality: Personality{Imagination: 6, Skepticism: 7, Aggression: 9, Emotionality: 4}, LanguageStyle: "provocative"},
		{Name: Realist, Personality: Personality{Imagination: 4, Skepticism: 7, Aggression: 5, Emotionality: 3}, LanguageStyle: "practical"},
	}
}

// Validate checks that set contains each of the five archetypes exactly once
// and that every trait lies in [1,10].
func Validate(set []Archetype) error {
	if len(set) != len(Order) {
		return fmt.Errorf("%w: expected %d archetypes, got %d", ErrInvalid, len(Order), len(set))
	}
	seen := make(map[Name]bool, len(set))
	for _, a := range set {
		if !a.Name.Valid() {
			return fmt.Errorf("%w: unknown archetype %q", ErrInvalid, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate archetype %q", ErrInvalid, a.Name)
		}
		seen[a.Name] = true

		traits := map[string]int{
			"imagination":  a.Personality.Imagination,
			"skepticism":   a.Personality.Skepticism,
			"aggression":   a.Personality.Aggression,
			"emotionality": a.Personality.Emotionality,
		}
		for trait, v := range traits {
			if v < 1 || v > 10 {
				return fmt.Errorf("%w: %s.%s = %d, must be in [1,10]", ErrInvalid, a.Name, trait, v)
			}
		}
	}
	return nil
}

// Ordered returns a copy of set sorted into canonical order. Names not in
// Order are dropped; callers are expected to Validate first.
func Ordered(set []Archetype) []Archetype {
	byName := make(map[Name]Archetype, len(set))
	for _, a := range set {
		byName[a.Name] = a
	}
	out := make([]Archetype, 0, len(Order))
	for _, n := range Order {
		if a, ok := byName[n]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Merge overlays partial onto base by name. Zero-valued traits and empty
// strings in partial keep the base value.
func Merge(base, partial []Archetype) []Archetype {
	out := Ordered(base)
	for _, p := range partial {
		for i := range out {
			if out[i].Name != p.Name {
				continue
			}
			if p.Personality.Imagination != 0 {
				out[i].Personality.Imagination = p.Personality.Imagination
			}
			if p.Personality.Skepticism != 0 {
				out[i].Personality.Skepticism = p.Personality.Skepticism
			}
			if p.Personality.Aggression != 0 {
				out[i].Personality.Aggression = p.Personality.Aggression
			}
			if p.Personality.Emotionality != 0 {
				out[i].Personality.Emotionality = p.Personality.Emotionality
			}
			if p.LanguageStyle != "" {
				out[i].LanguageStyle = p.LanguageStyle
			}
			if p.Constraint != "" {
				out[i].Constraint = p.Constraint
			}
		}
	}
	return out
}

type overridesFile struct {
	Archetypes []Archetype `yaml:"archetypes"`
}

// LoadFile reads archetype overrides from a YAML file and merges them onto
// Defaults. An empty path returns Defaults unchanged.
func LoadFile(path string) ([]Archetype, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archetypes file: %w", err)
	}
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing archetypes file %s: %w", path, err)
	}
	for _, a := range f.Archetypes {
		if !a.Name.Valid() {
			return nil, fmt.Errorf("%w: unknown archetype %q in %s", ErrInvalid, a.Name, path)
		}
	}
	merged := Merge(Defaults(), f.Archetypes)
	if err := Validate(merged); err != nil {
		return nil, fmt.Errorf("archetypes file %s: %w", path, err)
	}
	return merged, nil
}
