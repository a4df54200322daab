package compress

import "strings"

const maxUltraRunes = 200

// Fallback formats insight locally: the first sentence, the first three
// sentences, and the insight verbatim.
func Fallback(insight string) Formats {
	sentences := splitSentences(insight)
	if len(sentences) == 0 {
		return Formats{UltraConcise: insight, Medium: insight, Comprehensive: insight}
	}

	ultra := sentences[0]
	if r := []rune(ultra); len(r) > maxUltraRunes {
		ultra = strings.TrimSpace(string(r[:maxUltraRunes-3])) + "..."
	}
	medium := strings.Join(sentences[:min(3, len(sentences))], " ")

	return Formats{
		UltraConcise:  ultra,
		Medium:        medium,
		Comprehensive: insight,
	}
}

// splitSentences splits on '.', '!' or '?' followed by whitespace or the end
// of text, keeping the terminator.
func splitSentences(text string) []string {
	var out []string
	r := []rune(strings.TrimSpace(text))
	start := 0
	for i := 0; i < len(r); i++ {
		if r[i] != '.' && r[i] != '!' && r[i] != '?' {
			continue
		}
		if i+1 < len(r) && r[i+1] != ' ' && r[i+1] != '\n' && r[i+1] != '\t' {
			continue
		}
		if s := strings.TrimSpace(string(r[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(r[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
