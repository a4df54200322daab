package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/llm"
	"github.com/kalambet/genius/internal/synth"
)

// Options configure an Orchestrator.
type Options struct {
	// Completer backs archetype and synthesis text. Nil renders templates.
	Completer llm.Completer
	// Strict surfaces completion failures instead of falling back to
	// templates. Chunk workers run strict so that failures reach the
	// chunk runner's recovery path.
	Strict bool
	// LayerRetries is how many times a failed layer is retried.
	LayerRetries int
	// Archetypes is the default set; requests may override it.
	Archetypes []archetype.Archetype
}

// Progress is emitted before each layer starts.
type Progress struct {
	CurrentLayer int
	TotalLayers  int
	Phase        string
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(Progress)

// Range scopes a run to layers [Start, Start+Count).
type Range struct {
	Question    string
	CircuitType CircuitType
	Archetypes  []archetype.Archetype
	Start       int
	Count       int
	// TotalLayers is reported in progress events; it defaults to the
	// range's last layer number.
	TotalLayers int
}

// Orchestrator drives the layer loop.
type Orchestrator struct {
	responder  *archetype.Responder
	synth      *synth.Synthesizer
	retries    int
	archetypes []archetype.Archetype
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	set := opts.Archetypes
	if len(set) == 0 {
		set = archetype.Defaults()
	}
	return &Orchestrator{
		responder:  archetype.NewResponder(opts.Completer, opts.Strict),
		synth:      synth.New(opts.Completer, opts.Strict),
		retries:    max(0, opts.LayerRetries),
		archetypes: set,
	}
}

// Archetypes returns the orchestrator's default archetype set.
func (o *Orchestrator) Archetypes() []archetype.Archetype {
	return append([]archetype.Archetype(nil), o.archetypes...)
}

// NewRand returns the seedable random source used for tension gating.
// A zero seed is replaced by the current time.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Run executes a full run of req.ProcessingDepth layers. If a layer fails
// after its retries, Run returns the partial result built from the layers
// that completed together with a *LayerProcessingError.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	set, err := ResolveArchetypes(o.archetypes, req.CustomArchetypes)
	if err != nil {
		return nil, err
	}

	layers, err := o.RunRange(ctx, Range{
		Question:    req.Question,
		CircuitType: req.CircuitType,
		Archetypes:  set,
		Start:       1,
		Count:       req.ProcessingDepth,
	}, nil, NewRand(req.Seed), progress)

	res := Assemble(req, layers)
	if err != nil {
		return res, err
	}
	return res, nil
}

// RunRange runs the layers of r. contextLayers are earlier layers whose
// insights seed the prior-insight history. Layers completed before a failure
// are returned alongside the error.
func (o *Orchestrator) RunRange(ctx context.Context, r Range, contextLayers []Layer, rnd archetype.Rand, progress ProgressFunc) ([]Layer, error) {
	if r.Start < 1 || r.Count < 1 {
		return nil, &InvalidInputError{Field: "range", Reason: "start and count must be >= 1"}
	}
	if len(r.Archetypes) == 0 {
		r.Archetypes = o.archetypes
	}
	if err := archetype.Validate(r.Archetypes); err != nil {
		return nil, err
	}
	set := archetype.Ordered(r.Archetypes)
	total := r.TotalLayers
	if total == 0 {
		total = r.Start + r.Count - 1
	}

	prior := Insights(contextLayers)
	layers := make([]Layer, 0, r.Count)
	for n := r.Start; n < r.Start+r.Count; n++ {
		if err := ctx.Err(); err != nil {
			return layers, err
		}
		if progress != nil {
			progress(Progress{CurrentLayer: n, TotalLayers: total, Phase: "layer"})
		}

		layer, err := o.layerWithRetry(ctx, r, set, n, prior, rnd)
		if err != nil {
			return layers, &LayerProcessingError{Layer: n, Err: err}
		}
		layers = append(layers, layer)
		prior = append(prior, layer.Insight)
	}
	return layers, nil
}

func (o *Orchestrator) layerWithRetry(ctx context.Context, r Range, set []archetype.Archetype, n int, prior []string, rnd archetype.Rand) (Layer, error) {
	var lastErr error
	for attempt := 0; attempt <= o.retries; attempt++ {
		layer, err := o.layer(ctx, r, set, n, prior, rnd)
		if err == nil {
			return layer, nil
		}
		lastErr = err
		if ctx.Err() != nil || !llm.IsCompletionError(err) {
			break
		}
		slog.Warn("layer failed, retrying", "layer", n, "attempt", attempt+1, "error", err)
	}
	return Layer{}, lastErr
}

func (o *Orchestrator) layer(ctx context.Context, r Range, set []archetype.Archetype, n int, prior []string, rnd archetype.Rand) (Layer, error) {
	focus := LayerFocus(n)
	base := archetype.Request{
		Question:      r.Question,
		LayerNumber:   n,
		LayerFocus:    focus,
		PriorInsights: prior,
	}

	drafts, err := o.drafts(ctx, r.CircuitType, set, base)
	if err != nil {
		return Layer{}, err
	}

	contribs := make([]archetype.Contribution, 0, len(set))
	for i, a := range set {
		req := base
		req.Archetype = a
		req.Siblings = contribs
		contribs = append(contribs, o.responder.Finish(drafts[i], req, rnd))
	}

	s, err := o.synth.Synthesize(ctx, synth.Input{
		LayerNumber:   n,
		Focus:         focus,
		Contributions: contribs,
		Question:      r.Question,
		PriorInsights: prior,
	})
	if err != nil {
		return Layer{}, err
	}

	return Layer{
		LayerNumber:           n,
		Focus:                 focus,
		Insight:               s.Insight,
		Confidence:            s.Confidence,
		TensionPoints:         s.TensionPoints,
		NoveltyScore:          s.NoveltyScore,
		EmergenceDetected:     s.EmergenceDetected,
		BreakthroughTriggered: s.BreakthroughTriggered,
		ArchetypeResponses:    contribs,
		Timestamp:             time.Now(),
	}, nil
}

// drafts produces the body text for each archetype, concurrently for
// parallel and hybrid circuits. Results are indexed by archetype position.
func (o *Orchestrator) drafts(ctx context.Context, circuit CircuitType, set []archetype.Archetype, base archetype.Request) ([]string, error) {
	out := make([]string, len(set))
	if !circuit.concurrent() {
		for i, a := range set {
			req := base
			req.Archetype = a
			d, err := o.responder.Draft(ctx, req)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range set {
		g.Go(func() error {
			req := base
			req.Archetype = a
			d, err := o.responder.Draft(gctx, req)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsLayerFailure reports whether err is a *LayerProcessingError.
func IsLayerFailure(err error) bool {
	var lpe *LayerProcessingError
	return errors.As(err, &lpe)
}
