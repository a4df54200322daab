package archetype

import "strings"

// Strategy holds the template family and flavor suffix that give an archetype
// its voice. Templates use the {question} and {focus} placeholders.
type Strategy struct {
	Templates []string
	Flavor    string
}

var strategies = map[Name]Strategy{
	Visionary: {
		Templates: []string{
			"Looking at \"{question}\" through the lens of {focus}, I see a future where the answer is not a fixed point but a trajectory that keeps widening.",
			"What if \"{question}\" is really an invitation? At the level of {focus}, the possibilities multiply faster than we can name them.",
			"Imagine \"{question}\" answered a decade from now: the {focus} we do today becomes the seed of an entirely new field.",
			"The boldest reading of \"{question}\" treats {focus} as a doorway, and every doorway here opens onto a larger room.",
		},
		Flavor: " The horizon keeps moving, and that is the point.",
	},
	Skeptic: {
		Templates: []string{
			"Before accepting any answer to \"{question}\", {focus} demands evidence; however, most of what we have is anecdote dressed as insight.",
			"I challenge the assumption buried in \"{question}\": the {focus} so far rests on definitions nobody has tested.",
			"The claims raised during {focus} sound persuasive, but persuasion is not proof, and \"{question}\" deserves proof.",
			"Strip \"{question}\" of its rhetoric and {focus} reveals a flawed premise that everything else depends on.",
		},
		Flavor: " Show me the evidence and I will follow it.",
	},
	Mystic: {
		Templates: []string{
			"\"{question}\" is less a puzzle than a mirror; in {focus}, the asker and the answer begin to dissolve into each other.",
			"Beneath \"{question}\" flows something older than language, and {focus} touches it only when we stop grasping.",
			"Every answer to \"{question}\" casts a shadow. In {focus}, the shadow teaches as much as the light.",
			"In {focus}, \"{question}\" reveals itself as a cycle, returning to where it began but seen for the first time.",
		},
		Flavor: " What is sought is already seeking us.",
	},
	Contrarian: {
		Templates: []string{
			"Everyone is wrong about \"{question}\" in the same way: {focus} treats the obvious answer as settled when its opposite is just as defensible.",
			"I disagree with the consensus forming around \"{question}\". Turn {focus} upside down and the inverse claim explains more.",
			"The popular view of \"{question}\" overlooks that its {focus} could be the problem rather than the solution.",
			"What if the contrary position on \"{question}\" is the productive one? {focus} has been too polite to try it.",
		},
		Flavor: " Comfort with an answer is the first sign to doubt it.",
	},
	Realist: {
		Templates: []string{
			"Practically, \"{question}\" comes down to what can be done on Monday morning; {focus} should end in one concrete step.",
			"Given real constraints of time, money and attention, {focus} of \"{question}\" narrows to a few workable options.",
			"The workable answer to \"{question}\" is the one people will actually adopt, and {focus} should be judged by that test.",
			"Ground \"{question}\" in what has already been observed: {focus} shows which ideas survive contact with reality.",
		},
		Flavor: " Start small, measure, and adjust.",
	},
}

var tensionPhrases = []string{
	"Building against what was just said, ",
	"Pushing back on the previous view, ",
	"In tension with the others here, ",
	"Where the others converge, I diverge: ",
}

// disagreementKeywords raise an archetype's tension score when present as
// whole words in its response.
var disagreementKeywords = []string{
	"however", "but", "disagree", "challenge", "contrary",
	"wrong", "flawed", "assumption", "overlooks", "tension",
}

// StrategyFor returns the strategy registered for n.
func StrategyFor(n Name) (Strategy, bool) {
	s, ok := strategies[n]
	return s, ok
}

// Template returns the template for the given layer, keyed by
// layerNumber mod len(Templates).
func (s Strategy) Template(layerNumber int) string {
	if len(s.Templates) == 0 {
		return ""
	}
	return s.Templates[layerNumber%len(s.Templates)]
}

// Render fills the template for layerNumber with the question and focus.
func (s Strategy) Render(layerNumber int, question, focus string) string {
	r := strings.NewReplacer(
		"{question}", question,
		"{focus}", strings.ToLower(focus),
	)
	return r.Replace(s.Template(layerNumber))
}

// countDisagreements returns how many distinct disagreement keywords occur
// in text as whole words.
func countDisagreements(text string) int {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '\'')
	}) {
		words[w] = true
	}
	n := 0
	for _, k := range disagreementKeywords {
		if words[k] {
			n++
		}
	}
	return n
}
