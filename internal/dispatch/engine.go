// Package dispatch routes recognized utterances to registered commands: it
// gates transcripts on confidence and wake state, matches them against the
// live registry snapshot, coordinates disambiguation rounds when matching
// cannot settle on one command, and hands resolved commands to the action
// invoker. All errors arising from one utterance are contained within that
// turn and reported via speech; none terminate the listening loop.
package dispatch

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/halvard/vesper/internal/action"
	"github.com/halvard/vesper/internal/command"
	"github.com/halvard/vesper/internal/command/match"
	"github.com/halvard/vesper/internal/history"
	"github.com/halvard/vesper/internal/observe"
	"github.com/halvard/vesper/internal/transcript"
	"github.com/halvard/vesper/pkg/types"
)

// Speaker voices a response to the user. Synthesis failures are logged by
// the engine and never fail a turn.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// WakeConfig gates dispatch behind a spoken wake phrase.
type WakeConfig struct {
	// Enabled turns wake gating on. When off every utterance is eligible.
	Enabled bool

	// Phrase is the wake phrase, matched strictly after normalization.
	Phrase string

	// Window is how long after the wake phrase commands are accepted.
	// The window restarts after each dispatched command.
	Window time.Duration
}

// Phrases are the fixed spoken responses for dispatch outcomes.
type Phrases struct {
	NoMatch          string
	Busy             string
	Cancelled        string
	SelectionTimeout string
	ActionFailed     string
	Offline          string
	NotifyCue        string
	WakeAck          string
}

func (p Phrases) withDefaults() Phrases {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&p.NoMatch, "sorry, I don't know that one")
	def(&p.Busy, "I'm busy with something else, one moment")
	def(&p.Cancelled, "okay, never mind")
	def(&p.SelectionTimeout, "I didn't catch a choice, so I left it alone")
	def(&p.ActionFailed, "sorry, the command failed")
	def(&p.Offline, "that needs a network connection and I don't have one")
	def(&p.NotifyCue, "on it")
	def(&p.WakeAck, "yes?")
	return p
}

// Config holds the engine's dispatch knobs.
type Config struct {
	// MinConfidence discards transcripts whose recognizer confidence is
	// below this value. Transcripts without a confidence always pass.
	MinConfidence float64

	// MinWords and MaxWords bound the normalized token count of an
	// utterance; out-of-bounds utterances are ignored. Zero disables the
	// respective bound.
	MinWords int
	MaxWords int

	// SelectionTimeout bounds how long a disambiguation round waits for
	// a follow-up utterance. Default 12s.
	SelectionTimeout time.Duration

	// CancelPhrases abort a pending round or a running action. Compared
	// against the whole normalized utterance. Default "cancel" and
	// "never mind".
	CancelPhrases []string

	Wake    WakeConfig
	Phrases Phrases
}

func (c Config) withDefaults() Config {
	if c.SelectionTimeout <= 0 {
		c.SelectionTimeout = 12 * time.Second
	}
	if len(c.CancelPhrases) == 0 {
		c.CancelPhrases = []string{"cancel", "never mind", "nevermind"}
	}
	if c.Wake.Enabled && c.Wake.Window <= 0 {
		c.Wake.Window = 15 * time.Second
	}
	c.Phrases = c.Phrases.withDefaults()
	return c
}

// Deps are the engine's collaborators. Registry, Matcher, Actions, Invoker,
// and Speaker are required; History and Metrics may be nil.
type Deps struct {
	Registry   *command.Registry
	Matcher    *match.Matcher
	Actions    *action.Registry
	Invoker    *action.Invoker
	Speaker    Speaker
	Normalizer *transcript.Normalizer
	History    *history.Store
	Metrics    *observe.Metrics
}

// DispositionKind classifies how one utterance's dispatch settled.
type DispositionKind int

const (
	// Ignored means the utterance was dropped without a spoken response:
	// outside the wake window, empty after normalization, or out of the
	// word bounds.
	Ignored DispositionKind = iota

	// LowConfidence means the recognizer confidence was below threshold.
	LowConfidence

	// Woke means the utterance was the bare wake phrase and opened the
	// wake window.
	Woke

	// NoMatch means no command cleared the minimum score.
	NoMatch

	// Ambiguous means a command-selection round was opened.
	Ambiguous

	// Prompted means a parameter round was opened for a missing value.
	Prompted

	// AwaitingConfirmation means a sensitive command is waiting for a
	// spoken yes/no.
	AwaitingConfirmation

	// Invoked means an action was started.
	Invoked

	// Busy means a command arrived while an action was still running.
	Busy

	// Cancelled means the utterance cancelled a pending round or a
	// running action.
	Cancelled

	// Rejected means the command could not run, e.g. it requires network
	// connectivity that is absent or its action failed to resolve.
	Rejected
)

func (k DispositionKind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case LowConfidence:
		return "low_confidence"
	case Woke:
		return "woke"
	case NoMatch:
		return "no_match"
	case Ambiguous:
		return "ambiguous"
	case Prompted:
		return "prompted"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Invoked:
		return "invoked"
	case Busy:
		return "busy"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Disposition reports how [Engine.Dispatch] settled one utterance.
type Disposition struct {
	Kind    DispositionKind
	Command string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConnectivityProbe replaces the network probe used for online-only
// commands. The default dials a public DNS endpoint.
func WithConnectivityProbe(probe func(ctx context.Context) bool) Option {
	return func(e *Engine) { e.online = probe }
}

// WithClock replaces the engine's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the dispatch core. Dispatch must be called from a single
// goroutine — utterances are turns, processed in arrival order — but the
// registry snapshot it matches against may be swapped concurrently by
// module reloads.
type Engine struct {
	cfg      Config
	registry *command.Registry
	matcher  *match.Matcher
	actions  *action.Registry
	invoker  *action.Invoker
	speaker  Speaker
	norm     *transcript.Normalizer
	hist     *history.Store
	metrics  *observe.Metrics
	online   func(ctx context.Context) bool
	now      func() time.Time

	mu         sync.Mutex
	pending    *Pending
	wakeUntil  time.Time
	wakeTokens []string
}

// New validates deps and returns a ready Engine.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	var errs []error
	if deps.Registry == nil {
		errs = append(errs, errors.New("dispatch: registry is required"))
	}
	if deps.Matcher == nil {
		errs = append(errs, errors.New("dispatch: matcher is required"))
	}
	if deps.Actions == nil {
		errs = append(errs, errors.New("dispatch: action registry is required"))
	}
	if deps.Invoker == nil {
		errs = append(errs, errors.New("dispatch: invoker is required"))
	}
	if deps.Speaker == nil {
		errs = append(errs, errors.New("dispatch: speaker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	if deps.Normalizer == nil {
		deps.Normalizer = transcript.New()
	}

	e := &Engine{
		cfg:      cfg,
		registry: deps.Registry,
		matcher:  deps.Matcher,
		actions:  deps.Actions,
		invoker:  deps.Invoker,
		speaker:  deps.Speaker,
		norm:     deps.Normalizer,
		hist:     deps.History,
		metrics:  deps.Metrics,
		online:   defaultProbe,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Wake.Enabled {
		e.wakeTokens = e.norm.Normalize(cfg.Wake.Phrase)
		if len(e.wakeTokens) == 0 {
			return nil, errors.New("dispatch: wake phrase normalizes to nothing")
		}
	}
	// Cancel phrases are compared post-normalization, so normalize them
	// the same way utterances are.
	for i, phrase := range e.cfg.CancelPhrases {
		e.cfg.CancelPhrases[i] = e.norm.NormalizeText(phrase)
	}

	return e, nil
}

// Pending reports whether a disambiguation round is open and its state.
func (e *Engine) Pending() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return 0, false
	}
	return e.pending.state, true
}

// Dispatch processes one finalized transcript as a full assistant turn:
// confidence gate, normalization, pending-round follow-up interpretation,
// wake gating, matching, and either invocation or a new disambiguation
// round. Spoken responses go through the Speaker; the returned Disposition
// says how the turn settled.
func (e *Engine) Dispatch(ctx context.Context, tr types.Transcript) Disposition {
	start := e.now()

	if tr.HasConfidence && tr.Confidence < e.cfg.MinConfidence {
		observe.Logger(ctx).Debug("transcript below confidence threshold",
			"confidence", tr.Confidence, "threshold", e.cfg.MinConfidence)
		e.finish(ctx, tr, "", "low_confidence", "", 0, "", start)
		return Disposition{Kind: LowConfidence}
	}

	tokens := e.norm.Normalize(tr.Text)
	normText := strings.Join(tokens, " ")

	e.mu.Lock()
	defer e.mu.Unlock()

	// An open round claims the utterance first.
	if p := e.pending; p != nil && p.state != StateResolved && p.state != StateCancelled {
		p.state = StateAwaitingSelection
		if disp, handled := e.handleFollowUp(ctx, p, tokens, tr, normText, start); handled {
			return disp
		}
		// Not a selection: the round is abandoned and the utterance is
		// treated as a fresh command.
		e.closePending(ctx, p, StateCancelled, "superseded")
	}

	if e.cfg.Wake.Enabled {
		var woke bool
		tokens, woke = e.stripWake(tokens)
		if woke && len(tokens) == 0 {
			e.speak(ctx, e.cfg.Phrases.WakeAck)
			return Disposition{Kind: Woke}
		}
		if !woke && e.now().After(e.wakeUntil) {
			observe.Logger(ctx).Debug("utterance outside wake window", "text", normText)
			return Disposition{Kind: Ignored}
		}
	}

	if n := len(tokens); n == 0 ||
		(e.cfg.MinWords > 0 && n < e.cfg.MinWords) ||
		(e.cfg.MaxWords > 0 && n > e.cfg.MaxWords) {
		observe.Logger(ctx).Debug("utterance outside word bounds", "words", n)
		return Disposition{Kind: Ignored}
	}

	if e.isCancelPhrase(strings.Join(tokens, " ")) && e.invoker.Busy() {
		if e.invoker.Cancel() {
			e.speak(ctx, e.cfg.Phrases.Cancelled)
			e.finish(ctx, tr, normText, "cancelled", "", 0, "running action", start)
			return Disposition{Kind: Cancelled}
		}
	}

	if e.invoker.Busy() {
		e.speak(ctx, e.cfg.Phrases.Busy)
		e.finish(ctx, tr, normText, "busy", "", 0, "", start)
		return Disposition{Kind: Busy}
	}

	res := e.matcher.Match(e.registry.Snapshot(), tokens)
	switch res.Kind {
	case match.NoMatch:
		e.speak(ctx, e.cfg.Phrases.NoMatch)
		e.finish(ctx, tr, normText, "no_match", "", 0, "", start)
		return Disposition{Kind: NoMatch}

	case match.Ambiguous:
		return e.openCommandRound(ctx, res.Candidates, tr, normText, start)

	default:
		e.resetWake()
		return e.resume(ctx, res.Best, false, tr, normText, start)
	}
}

// handleFollowUp interprets tokens as a response to the open round.
// handled is false when the utterance is neither a selection, a value, nor
// a cancellation, in which case the caller falls back to fresh dispatch.
func (e *Engine) handleFollowUp(ctx context.Context, p *Pending, tokens []string, tr types.Transcript, normText string, start time.Time) (Disposition, bool) {
	switch p.kind {
	case pendingConfirm:
		confirmed, ok := parseConfirmation(tokens, e.cfg.CancelPhrases)
		if !ok {
			return Disposition{}, false
		}
		if !confirmed {
			e.closePending(ctx, p, StateCancelled, "declined")
			e.speak(ctx, e.cfg.Phrases.Cancelled)
			e.finish(ctx, tr, normText, "cancelled", p.chosen.Def.Name, p.chosen.Score, "declined", start)
			return Disposition{Kind: Cancelled}, true
		}
		e.closePending(ctx, p, StateResolved, "confirmed")
		return e.resume(ctx, p.chosen, true, tr, p.sourceText, start), true

	case pendingParam:
		if p.param.Type == command.ParamChoice {
			sel, ok := parseSelection(tokens, p.Labels(), e.cfg.CancelPhrases)
			if !ok {
				return Disposition{}, false
			}
			if sel.cancelled {
				e.closePending(ctx, p, StateCancelled, "cancel phrase")
				e.speak(ctx, e.cfg.Phrases.Cancelled)
				e.finish(ctx, tr, normText, "cancelled", p.chosen.Def.Name, p.chosen.Score, "", start)
				return Disposition{Kind: Cancelled}, true
			}
			return e.fillParam(ctx, p, p.param.Choices[sel.index], tr, start), true
		}

		if e.isCancelPhrase(strings.Join(tokens, " ")) {
			e.closePending(ctx, p, StateCancelled, "cancel phrase")
			e.speak(ctx, e.cfg.Phrases.Cancelled)
			e.finish(ctx, tr, normText, "cancelled", p.chosen.Def.Name, p.chosen.Score, "", start)
			return Disposition{Kind: Cancelled}, true
		}
		val, ok := match.BindValue(p.param, tokens)
		if !ok {
			return Disposition{}, false
		}
		return e.fillParam(ctx, p, val, tr, start), true

	default: // pendingCommands
		sel, ok := parseSelection(tokens, p.Labels(), e.cfg.CancelPhrases)
		if !ok {
			return Disposition{}, false
		}
		if sel.cancelled {
			e.closePending(ctx, p, StateCancelled, "cancel phrase")
			e.speak(ctx, e.cfg.Phrases.Cancelled)
			e.finish(ctx, tr, normText, "cancelled", "", 0, "", start)
			return Disposition{Kind: Cancelled}, true
		}
		chosen := p.candidates[sel.index]
		e.closePending(ctx, p, StateResolved, chosen.Def.Name)
		e.resetWake()
		return e.resume(ctx, chosen, false, tr, p.sourceText, start), true
	}
}

// fillParam records a supplied parameter value and resumes dispatch of the
// chosen command.
func (e *Engine) fillParam(ctx context.Context, p *Pending, val any, tr types.Transcript, start time.Time) Disposition {
	cand := p.chosen
	if cand.Params == nil {
		cand.Params = make(map[string]any)
	}
	cand.Params[p.param.Name] = val
	remaining := cand.Missing[:0:0]
	for _, spec := range cand.Missing {
		if spec.Name != p.param.Name {
			remaining = append(remaining, spec)
		}
	}
	cand.Missing = remaining
	e.closePending(ctx, p, StateResolved, p.param.Name)
	return e.resume(ctx, cand, false, tr, p.sourceText, start)
}

// resume carries a chosen candidate through the remaining gates: missing
// parameters, network requirement, confirmation, and finally invocation.
func (e *Engine) resume(ctx context.Context, cand *match.Candidate, confirmed bool, tr types.Transcript, normText string, start time.Time) Disposition {
	if len(cand.Missing) > 0 {
		return e.openParamRound(ctx, cand, cand.Missing[0], tr, normText, start)
	}

	def := cand.Def
	if def.Flags.Online && !e.online(ctx) {
		e.speak(ctx, e.cfg.Phrases.Offline)
		e.finish(ctx, tr, normText, "rejected", def.Name, cand.Score, "offline", start)
		return Disposition{Kind: Rejected, Command: def.Name}
	}

	if def.Flags.Sensitive && !confirmed {
		return e.openConfirmRound(ctx, cand, tr, normText, start)
	}

	if def.Flags.Notify {
		e.speak(ctx, e.cfg.Phrases.NotifyCue)
	}
	if def.Response != "" {
		e.speak(ctx, def.Response)
	}

	return e.invoke(ctx, cand, tr, normText, start)
}

// invoke starts the action on the single-flight worker and watches for its
// outcome on a separate goroutine, so the engine can keep listening for a
// cancellation phrase while the action runs.
func (e *Engine) invoke(ctx context.Context, cand *match.Candidate, tr types.Transcript, normText string, start time.Time) Disposition {
	def := cand.Def
	fn, err := e.actions.Resolve(def.Action)
	if err != nil {
		observe.Logger(ctx).Error("action not resolvable", "command", def.Name, "action", def.Action, "err", err)
		e.speak(ctx, e.cfg.Phrases.ActionFailed)
		e.finish(ctx, tr, normText, "error", def.Name, cand.Score, err.Error(), start)
		return Disposition{Kind: Rejected, Command: def.Name}
	}

	outcomes, err := e.invoker.Start(ctx, action.Invocation{
		Command: def.Name,
		Fn:      fn,
		Params:  cand.Params,
	})
	if err != nil {
		if errors.Is(err, action.ErrBusy) {
			e.speak(ctx, e.cfg.Phrases.Busy)
			e.finish(ctx, tr, normText, "busy", def.Name, cand.Score, "", start)
			return Disposition{Kind: Busy, Command: def.Name}
		}
		observe.Logger(ctx).Error("failed to start action", "command", def.Name, "err", err)
		e.speak(ctx, e.cfg.Phrases.ActionFailed)
		e.finish(ctx, tr, normText, "error", def.Name, cand.Score, err.Error(), start)
		return Disposition{Kind: Rejected, Command: def.Name}
	}

	go e.awaitOutcome(ctx, cand, outcomes, tr, normText, start)
	return Disposition{Kind: Invoked, Command: def.Name}
}

// awaitOutcome settles a running action: speaks its result or a failure
// phrase, and records metrics and history. Runs outside the engine lock.
func (e *Engine) awaitOutcome(ctx context.Context, cand *match.Candidate, outcomes <-chan action.Outcome, tr types.Transcript, normText string, start time.Time) {
	out, ok := <-outcomes
	if !ok {
		return
	}
	log := observe.Logger(ctx)

	status := "ok"
	switch {
	case out.Cancelled:
		status = "cancelled"
		log.Info("action cancelled", "command", out.Command, "duration", out.Duration)
	case out.Err != nil:
		status = "error"
		var execErr *action.ExecutionError
		if errors.As(out.Err, &execErr) && execErr.TimedOut {
			status = "timeout"
		}
		log.Error("action failed", "command", out.Command, "err", out.Err, "duration", out.Duration)
		e.speak(ctx, e.cfg.Phrases.ActionFailed)
	default:
		log.Info("action completed", "command", out.Command, "duration", out.Duration)
		if out.Result != "" {
			e.speak(ctx, out.Result)
		}
	}

	if e.metrics != nil {
		e.metrics.ActionDuration.Record(ctx, out.Duration.Seconds())
		e.metrics.RecordActionRun(ctx, cand.Def.Action, status)
	}
	detail := ""
	if out.Err != nil {
		detail = out.Err.Error()
	}
	outcome := "matched"
	if status == "cancelled" {
		outcome = "cancelled"
	} else if status != "ok" {
		outcome = "error"
	}
	e.finish(ctx, tr, normText, outcome, out.Command, cand.Score, detail, start)
}

// openCommandRound presents tied candidates and starts the selection timer.
func (e *Engine) openCommandRound(ctx context.Context, cands []*match.Candidate, tr types.Transcript, normText string, start time.Time) Disposition {
	p := &Pending{
		kind:       pendingCommands,
		candidates: cands,
		sourceText: normText,
		openedAt:   e.now(),
		state:      StateOpened,
	}
	e.openPending(ctx, p)
	e.speak(ctx, "I heard a few possibilities. "+spokenList(p.Labels()))
	e.finish(ctx, tr, normText, "ambiguous", "", 0, "", start)
	return Disposition{Kind: Ambiguous}
}

// openParamRound asks for a missing parameter value.
func (e *Engine) openParamRound(ctx context.Context, cand *match.Candidate, spec command.ParamSpec, tr types.Transcript, normText string, start time.Time) Disposition {
	p := &Pending{
		kind:       pendingParam,
		chosen:     cand,
		param:      spec,
		sourceText: normText,
		openedAt:   e.now(),
		state:      StateOpened,
	}
	e.openPending(ctx, p)
	if spec.Type == command.ParamChoice {
		e.speak(ctx, "which "+spec.Name+"? "+spokenList(p.Labels()))
	} else {
		e.speak(ctx, "what "+spec.Name+"?")
	}
	e.finish(ctx, tr, normText, "ambiguous", cand.Def.Name, cand.Score, "missing "+spec.Name, start)
	return Disposition{Kind: Prompted, Command: cand.Def.Name}
}

// openConfirmRound asks for a yes/no before running a sensitive command.
func (e *Engine) openConfirmRound(ctx context.Context, cand *match.Candidate, tr types.Transcript, normText string, start time.Time) Disposition {
	p := &Pending{
		kind:       pendingConfirm,
		chosen:     cand,
		sourceText: normText,
		openedAt:   e.now(),
		state:      StateOpened,
	}
	e.openPending(ctx, p)
	e.speak(ctx, "are you sure you want to "+cand.Def.Name+"?")
	e.finish(ctx, tr, normText, "ambiguous", cand.Def.Name, cand.Score, "awaiting confirmation", start)
	return Disposition{Kind: AwaitingConfirmation, Command: cand.Def.Name}
}

// openPending installs p as the single open round and arms its timer.
// Caller holds the engine lock.
func (e *Engine) openPending(ctx context.Context, p *Pending) {
	e.pending = p
	p.timer = time.AfterFunc(e.cfg.SelectionTimeout, func() { e.expirePending(p) })
	if e.metrics != nil {
		e.metrics.PendingDisambiguations.Add(ctx, 1)
	}
}

// closePending settles the open round. Caller holds the engine lock.
func (e *Engine) closePending(ctx context.Context, p *Pending, final State, detail string) {
	p.stopTimer()
	p.state = final
	if e.pending == p {
		e.pending = nil
	}
	result := "resolved"
	if final == StateCancelled {
		result = "cancelled"
	}
	observe.Logger(ctx).Debug("disambiguation closed", "state", final.String(), "detail", detail)
	if e.metrics != nil {
		e.metrics.RecordDisambiguation(ctx, result)
		e.metrics.PendingDisambiguations.Add(ctx, -1)
	}
}

// expirePending fires when the selection timer lapses with no follow-up.
func (e *Engine) expirePending(p *Pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != p || p.state == StateResolved || p.state == StateCancelled {
		return
	}
	p.state = StateCancelled
	e.pending = nil

	ctx := context.Background()
	observe.Logger(ctx).Info("disambiguation timed out", "opened_at", p.openedAt)
	if e.metrics != nil {
		e.metrics.RecordDisambiguation(ctx, "timeout")
		e.metrics.PendingDisambiguations.Add(ctx, -1)
	}
	e.speak(ctx, e.cfg.Phrases.SelectionTimeout)
}

// stripWake removes a leading wake phrase and opens the window when found.
func (e *Engine) stripWake(tokens []string) (rest []string, woke bool) {
	if len(tokens) < len(e.wakeTokens) {
		return tokens, false
	}
	for i, w := range e.wakeTokens {
		if tokens[i] != w {
			return tokens, false
		}
	}
	e.wakeUntil = e.now().Add(e.cfg.Wake.Window)
	return tokens[len(e.wakeTokens):], true
}

// resetWake restarts the wake window after a dispatched command, so a short
// exchange does not need the wake phrase repeated.
func (e *Engine) resetWake() {
	if e.cfg.Wake.Enabled {
		e.wakeUntil = e.now().Add(e.cfg.Wake.Window)
	}
}

func (e *Engine) isCancelPhrase(normText string) bool {
	for _, phrase := range e.cfg.CancelPhrases {
		if normText == phrase {
			return true
		}
	}
	return false
}

// speak voices text, logging and swallowing synthesis failures.
func (e *Engine) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	t0 := e.now()
	if err := e.speaker.Speak(ctx, text); err != nil {
		observe.Logger(ctx).Warn("synthesis failed", "err", err)
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, "synthesizer", "speak")
		}
		return
	}
	if e.metrics != nil {
		e.metrics.SynthesisDuration.Record(ctx, e.now().Sub(t0).Seconds())
	}
}

// finish records the settled turn to metrics and history.
func (e *Engine) finish(ctx context.Context, tr types.Transcript, normText, outcome, cmd string, score float64, detail string, start time.Time) {
	dur := e.now().Sub(start)
	if e.metrics != nil {
		e.metrics.DispatchDuration.Record(ctx, dur.Seconds())
		e.metrics.RecordDispatchOutcome(ctx, outcome)
	}
	e.hist.Record(ctx, history.Entry{
		ReceivedAt: tr.ReceivedAt,
		Raw:        tr.Text,
		Normalized: normText,
		Outcome:    outcome,
		Command:    cmd,
		Score:      score,
		Detail:     detail,
		Duration:   dur,
	})
}

// defaultProbe reports network reachability by dialing a public resolver.
func defaultProbe(ctx context.Context) bool {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:53")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
