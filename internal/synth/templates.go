package synth

// Template families keyed by layer number mod len. Placeholders: {question},
// {focus}, {layer}, {lead}, {quiet}, {count}.
var (
	breakthroughMachine = []string{
		"Breakthrough at layer {layer}: the {count} perspectives on \"{question}\" converge on a reframing. A machine does not need to mirror human cognition to produce genuine novelty; the {lead}'s pressure shows that {focus} in algorithms lives in how search spaces are shaped, not in what is searched.",
		"Layer {layer} breaks through: \"{question}\" dissolves once the {lead} and the {quiet} are read together. Neural systems recombine at a scale no person can, so {focus} becomes a question of which constraints we give the machine rather than whether it can be original.",
		"At layer {layer} the tension peaks and resolves: \"{question}\" is better asked of the human-machine pair than of either alone. Seen through {focus}, automation amplifies whichever judgment sits at its boundary, and that boundary is where originality is decided.",
	}
	breakthroughGeneric = []string{
		"Breakthrough at layer {layer}: the {count} perspectives on \"{question}\" fuse into something none held alone. Through {focus}, the {lead}'s challenge and the {quiet}'s calm turn out to describe the same hidden structure from opposite sides.",
		"Layer {layer} breaks through: \"{question}\" was framed as a choice, yet {focus} shows it to be a cycle. The {lead} pushes the cycle forward while the {quiet} keeps it whole, and the answer lives in their alternation.",
		"At layer {layer} the accumulated tension resolves into a new frame for \"{question}\": what looked like a contradiction is a gradient. Under {focus}, the {lead} and the {quiet} can each be right at a different point along it.",
	}
	normalMachine = []string{
		"Layer {layer} ({focus}) examines \"{question}\" through {count} lenses. The {lead} presses on what algorithms can do today, while the {quiet} keeps the analysis anchored to how such systems are built and used.",
		"At layer {layer}, {focus} of \"{question}\" narrows the space: machine capability and human purpose are separable, and the {lead}'s objections mark exactly where they meet.",
		"Layer {layer} advances the machine question in \"{question}\": {focus} suggests the interesting limits are not computational but conceptual, a point the {lead} and the {quiet} approach from opposite ends.",
	}
	normalGeneric = []string{
		"Layer {layer} ({focus}) gathers {count} perspectives on \"{question}\". The {lead} supplies the sharpest friction, and the {quiet} offers the steadiest ground, leaving a clearer outline of what remains open.",
		"At layer {layer}, {focus} of \"{question}\" shows the perspectives overlapping more than they first appeared. The {lead}'s dissent marks the one assumption still worth testing.",
		"Layer {layer} moves \"{question}\" forward by {focus}: each archetype holds a partial truth, and the gap between the {lead} and the {quiet} shows where the next layer should dig.",
		"Through {focus}, layer {layer} reframes \"{question}\" as a set of smaller questions. The {lead} and the {quiet} disagree on which comes first, and that disagreement is itself informative.",
	}
)

func renderTemplate(in Input, breakthrough, machine bool) string {
	var family []string
	switch {
	case breakthrough && machine:
		family = breakthroughMachine
	case breakthrough:
		family = breakthroughGeneric
	case machine:
		family = normalMachine
	default:
		family = normalGeneric
	}
	return placeholders(in).Replace(family[in.LayerNumber%len(family)])
}
