package convo

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hmorven/clarivox/internal/extract"
	"github.com/hmorven/clarivox/internal/normalize"
	"github.com/hmorven/clarivox/internal/observe"
	"github.com/hmorven/clarivox/internal/resolve"
	"github.com/hmorven/clarivox/internal/safety"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics overrides the metrics instance. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator runs the full cleaning pipeline over transcripts. It is
// read-only after construction and safe for concurrent use; all per-transcript
// state lives in a [ConversationState] created inside
// [Orchestrator.Process].
type Orchestrator struct {
	normalizer *normalize.Normalizer
	extractor  *extract.Extractor
	resolver   *resolve.Resolver
	engine     *safety.Engine
	metrics    *observe.Metrics
}

// New constructs an Orchestrator from the four pipeline stages.
func New(n *normalize.Normalizer, e *extract.Extractor, r *resolve.Resolver, s *safety.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		normalizer: n,
		extractor:  e,
		resolver:   r,
		engine:     s,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Process cleans one transcript: turns are processed strictly in order
// because entity history and correction resolution depend causally on prior
// turns.
//
// Structural input violations (unknown speaker label, empty turn) return a
// *dialogue.MalformedTranscriptError before any turn is processed — no
// partial output. Recognizer failures degrade the affected turn and
// processing continues.
func (o *Orchestrator) Process(ctx context.Context, t dialogue.Transcript) (dialogue.Result, error) {
	if err := validate(t); err != nil {
		return dialogue.Result{}, err
	}

	ctx, span := observe.StartSpan(ctx, "process transcript",
		trace.WithAttributes(observe.Attr("transcript_id", t.ID)))
	defer span.End()
	log := observe.Logger(ctx).With(slog.String("transcript_id", t.ID))

	o.metrics.ActiveTranscripts.Add(ctx, 1)
	defer o.metrics.ActiveTranscripts.Add(ctx, -1)
	start := time.Now()
	defer func() {
		o.metrics.TranscriptDuration.Record(ctx, time.Since(start).Seconds())
	}()

	state := NewConversationState()
	res := dialogue.Result{
		TranscriptID: t.ID,
		Turns:        make([]dialogue.Turn, 0, len(t.Turns)),
	}

	for i, in := range t.Turns {
		turn := o.processTurn(ctx, log, state, i, in, &res)
		res.Turns = append(res.Turns, turn)
	}

	log.LogAttrs(ctx, slog.LevelInfo, "transcript processed",
		slog.Int("turns", len(res.Turns)),
		slog.Int("corrections", len(res.Events)),
		slog.Int("safety_flags", len(res.Flags)),
	)
	return res, nil
}

// processTurn runs one turn through the pipeline and commits its entities.
// Cross-turn supersessions are written back into the already-assembled prior
// turns so the audit trail stays consistent with the entity history.
func (o *Orchestrator) processTurn(ctx context.Context, log *slog.Logger, state *ConversationState, index int, in dialogue.TurnInput, res *dialogue.Result) dialogue.Turn {
	turnStart := time.Now()
	defer func() {
		o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	}()

	turn := dialogue.Turn{
		Speaker: in.Speaker,
		Index:   index,
		Raw:     in.Text,
	}

	norm := o.normalizer.Normalize(in.Text)
	turn.RemovedFillers = norm.RemovedFillers
	turn.NoiseRemoved = norm.NoiseRemoved

	recStart := time.Now()
	ext, err := o.extractor.Extract(ctx, index, norm.Text)
	o.metrics.RecognizerDuration.Record(ctx, time.Since(recStart).Seconds())
	spans := ext.Spans
	if err != nil {
		// Recoverable: the turn proceeds with no entities.
		var xerr *dialogue.ExtractionError
		if !errors.As(err, &xerr) {
			xerr = &dialogue.ExtractionError{Turn: index, Err: err}
		}
		turn.Degraded = true
		spans = nil
		o.metrics.RecordExtractionError(ctx)
		log.LogAttrs(ctx, slog.LevelWarn, "turn degraded",
			slog.Int("turn", index),
			slog.String("error", xerr.Error()),
		)
	}
	turn.Normalized = ext.Text
	turn.PhoneticFixes = ext.Fixes

	out := o.resolver.Resolve(resolve.Input{
		TurnIndex:    index,
		Text:         ext.Text,
		Spans:        spans,
		History:      state,
		NextEntityID: state.AllocEntityID,
		NextEventSeq: state.AllocEventSeq,
	})
	turn.Cleaned = out.Cleaned
	turn.Tokens = out.Tokens
	turn.Corrections = out.Events

	turn.Entities = state.Commit(out.Entities, out.SupersededPrior)
	applySupersessions(res, out.SupersededPrior)

	for _, ev := range out.Events {
		o.metrics.RecordCorrection(ctx, string(ev.Strategy))
	}
	res.Events = append(res.Events, out.Events...)

	if in.Speaker == dialogue.SpeakerPatient {
		if flag := o.engine.Check(index, turn.Cleaned, turn.Entities); flag != nil {
			turn.Flag = flag
			res.Flags = append(res.Flags, *flag)
			o.metrics.RecordSafetyFlag(ctx, flag.Rule)
			log.LogAttrs(ctx, slog.LevelWarn, "safety flag raised",
				slog.Int("turn", index),
				slog.String("rule", flag.Rule),
			)
		}
	}

	status := "ok"
	if turn.Degraded {
		status = "degraded"
	}
	o.metrics.RecordTurn(ctx, string(in.Speaker), status)
	return turn
}

// validate fails fast on structural input violations, before any turn is
// processed.
func validate(t dialogue.Transcript) error {
	if len(t.Turns) == 0 {
		return &dialogue.MalformedTranscriptError{
			TranscriptID: t.ID,
			Turn:         -1,
			Reason:       "transcript has no turns",
		}
	}
	for i, in := range t.Turns {
		if !in.Speaker.IsValid() {
			return &dialogue.MalformedTranscriptError{
				TranscriptID: t.ID,
				Turn:         i,
				Reason:       "unknown speaker label " + strconv.Quote(string(in.Speaker)),
			}
		}
		if strings.TrimSpace(in.Text) == "" {
			return &dialogue.MalformedTranscriptError{
				TranscriptID: t.ID,
				Turn:         i,
				Reason:       "empty turn text",
			}
		}
	}
	return nil
}

// applySupersessions writes cross-turn supersession marks back into the
// already-assembled turns. Only the SupersededBy field changes; prior turn
// text is never rewritten.
func applySupersessions(res *dialogue.Result, supersededPrior map[int]int) {
	if len(supersededPrior) == 0 {
		return
	}
	for ti := range res.Turns {
		ents := res.Turns[ti].Entities
		for ei := range ents {
			if newID, ok := supersededPrior[ents[ei].ID]; ok {
				ents[ei].SupersededBy = newID
			}
		}
	}
}
