package dispatch_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/halvard/vesper/internal/action"
	"github.com/halvard/vesper/internal/command"
	"github.com/halvard/vesper/internal/command/match"
	"github.com/halvard/vesper/internal/dispatch"
	"github.com/halvard/vesper/pkg/types"
)

// fakeSpeaker records spoken texts and signals each one on a channel so
// tests can wait for asynchronous speech.
type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
	ch    chan string
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{ch: make(chan string, 16)}
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	select {
	case s.ch <- text:
	default:
	}
	return nil
}

func (s *fakeSpeaker) wait(t *testing.T) string {
	t.Helper()
	select {
	case text := <-s.ch:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speech")
		return ""
	}
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// clock is a mutable test time source.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock { return &clock{cur: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func mustPattern(t *testing.T, src string) command.Pattern {
	t.Helper()
	p, err := command.ParsePattern(src)
	if err != nil {
		t.Fatalf("ParsePattern(%q): %v", src, err)
	}
	return p
}

type fixture struct {
	engine  *dispatch.Engine
	speaker *fakeSpeaker
	actions *action.Registry
	invoker *action.Invoker
	clock   *clock
}

func newFixture(t *testing.T, cfg dispatch.Config, defs []*command.Definition, opts ...dispatch.Option) *fixture {
	t.Helper()
	reg := command.NewRegistry()
	if len(defs) > 0 {
		if err := reg.Register("test", defs); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	f := &fixture{
		speaker: newFakeSpeaker(),
		actions: action.NewRegistry(),
		invoker: action.NewInvoker(),
		clock:   newClock(),
	}
	opts = append([]dispatch.Option{dispatch.WithClock(f.clock.now)}, opts...)
	eng, err := dispatch.New(cfg, dispatch.Deps{
		Registry: reg,
		Matcher:  match.New(match.Config{}),
		Actions:  f.actions,
		Invoker:  f.invoker,
		Speaker:  f.speaker,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.engine = eng
	return f
}

// echo registers an action under name that returns reply.
func (f *fixture) echo(name, reply string) {
	f.actions.Register(name, func(context.Context, map[string]any) (string, error) {
		return reply, nil
	})
}

func say(text string) types.Transcript {
	return types.Transcript{Text: text, ReceivedAt: time.Now()}
}

func sayWithConfidence(text string, conf float64) types.Transcript {
	return types.Transcript{Text: text, Confidence: conf, HasConfidence: true, ReceivedAt: time.Now()}
}

func playDef(t *testing.T) *command.Definition {
	t.Helper()
	return &command.Definition{
		Name:     "media.play",
		Action:   "media.play",
		Patterns: []command.Pattern{mustPattern(t, "play music")},
	}
}

func TestDispatch_InvokesAndSpeaksResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, dispatch.Config{}, []*command.Definition{playDef(t)})
	f.echo("media.play", "playing music")

	d := f.engine.Dispatch(context.Background(), say("play music"))
	if d.Kind != dispatch.Invoked || d.Command != "media.play" {
		t.Fatalf("disposition = %+v", d)
	}
	if got := f.speaker.wait(t); got != "playing music" {
		t.Errorf("spoke %q", got)
	}
}

func TestDispatch_LowConfidence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, dispatch.Config{MinConfidence: 0.6}, []*command.Definition{playDef(t)})
	f.echo("media.play", "")

	d := f.engine.Dispatch(context.Background(), sayWithConfidence("play music", 0.3))
	if d.Kind != dispatch.LowConfidence {
		t.Fatalf("disposition = %+v", d)
	}
	// Transcripts without a confidence always pass the gate.
	d = f.engine.Dispatch(context.Background(), say("play music"))
	if d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
}

func TestDispatch_NoMatchSpeaks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, dispatch.Config{}, []*command.Definition{playDef(t)})

	d := f.engine.Dispatch(context.Background(), say("what is the meaning of life"))
	if d.Kind != dispatch.NoMatch {
		t.Fatalf("disposition = %+v", d)
	}
	if got := f.speaker.wait(t); !strings.Contains(got, "don't know") {
		t.Errorf("spoke %q", got)
	}
}

func TestDispatch_WordBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, dispatch.Config{MinWords: 2, MaxWords: 4}, []*command.Definition{playDef(t)})

	if d := f.engine.Dispatch(context.Background(), say("play")); d.Kind != dispatch.Ignored {
		t.Errorf("below MinWords: %+v", d)
	}
	if d := f.engine.Dispatch(context.Background(), say("play some music for me right now please thanks")); d.Kind != dispatch.Ignored {
		t.Errorf("above MaxWords: %+v", d)
	}
}

func TestDispatch_AmbiguousThenOrdinalSelection(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		{Name: "media.radio", Action: "media.radio", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.playlist", Action: "media.playlist", Patterns: []command.Pattern{mustPattern(t, "play music")}},
	}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("media.radio", "radio on")
	f.echo("media.playlist", "playlist on")

	d := f.engine.Dispatch(context.Background(), say("play music"))
	if d.Kind != dispatch.Ambiguous {
		t.Fatalf("disposition = %+v", d)
	}
	if got := f.speaker.wait(t); !strings.Contains(got, "media.radio") || !strings.Contains(got, "media.playlist") {
		t.Errorf("prompt %q should enumerate both candidates", got)
	}
	if _, open := f.engine.Pending(); !open {
		t.Fatal("a round should be open")
	}

	d = f.engine.Dispatch(context.Background(), say("the second one"))
	if d.Kind != dispatch.Invoked || d.Command != "media.playlist" {
		t.Fatalf("disposition = %+v", d)
	}
	if got := f.speaker.wait(t); got != "playlist on" {
		t.Errorf("spoke %q", got)
	}
	if _, open := f.engine.Pending(); open {
		t.Error("round should be closed after selection")
	}
}

func TestDispatch_AmbiguousThenLabelSelection(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		{Name: "media.radio", Action: "media.radio", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.playlist", Action: "media.playlist", Patterns: []command.Pattern{mustPattern(t, "play music")}},
	}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("media.radio", "radio on")
	f.echo("media.playlist", "playlist on")

	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ambiguous {
		t.Fatalf("disposition = %+v", d)
	}
	d := f.engine.Dispatch(context.Background(), say("radio"))
	if d.Kind != dispatch.Invoked || d.Command != "media.radio" {
		t.Fatalf("disposition = %+v", d)
	}
}

func TestDispatch_AmbiguousCancelPhrase(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		{Name: "media.radio", Action: "media.radio", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.playlist", Action: "media.playlist", Patterns: []command.Pattern{mustPattern(t, "play music")}},
	}
	f := newFixture(t, dispatch.Config{}, defs)

	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ambiguous {
		t.Fatalf("disposition = %+v", d)
	}
	d := f.engine.Dispatch(context.Background(), say("never mind"))
	if d.Kind != dispatch.Cancelled {
		t.Fatalf("disposition = %+v", d)
	}
	if _, open := f.engine.Pending(); open {
		t.Error("round should be closed after cancellation")
	}
}

func TestDispatch_SelectionTimeout(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		{Name: "media.radio", Action: "media.radio", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.playlist", Action: "media.playlist", Patterns: []command.Pattern{mustPattern(t, "play music")}},
	}
	f := newFixture(t, dispatch.Config{SelectionTimeout: 30 * time.Millisecond}, defs)

	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ambiguous {
		t.Fatalf("disposition = %+v", d)
	}
	f.speaker.wait(t) // the enumeration prompt

	if got := f.speaker.wait(t); !strings.Contains(got, "didn't catch") {
		t.Errorf("timeout phrase = %q", got)
	}
	if _, open := f.engine.Pending(); open {
		t.Error("round should be closed after the timer fired")
	}
}

func TestDispatch_NonSelectionFallsThroughToFreshDispatch(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		{Name: "media.radio", Action: "media.radio", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.playlist", Action: "media.playlist", Patterns: []command.Pattern{mustPattern(t, "play music")}},
		{Name: "media.stop", Action: "media.stop", Patterns: []command.Pattern{mustPattern(t, "stop everything")}},
	}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("media.stop", "stopped")

	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ambiguous {
		t.Fatalf("disposition = %+v", d)
	}
	// Not a selection against the open round: it supersedes the round.
	d := f.engine.Dispatch(context.Background(), say("stop everything"))
	if d.Kind != dispatch.Invoked || d.Command != "media.stop" {
		t.Fatalf("disposition = %+v", d)
	}
	if _, open := f.engine.Pending(); open {
		t.Error("superseded round should be closed")
	}
}

func TestDispatch_MissingParamPromptThenValue(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:   "timer.set",
		Action: "timer.set",
		Params: []command.ParamSpec{
			{Name: "duration", Type: command.ParamDuration, Required: true},
		},
		Patterns: []command.Pattern{
			mustPattern(t, "set a timer for <duration>"),
			mustPattern(t, "set a timer"),
		},
	}}
	f := newFixture(t, dispatch.Config{}, defs)

	var got map[string]any
	f.actions.Register("timer.set", func(_ context.Context, params map[string]any) (string, error) {
		got = params
		return "timer set", nil
	})

	d := f.engine.Dispatch(context.Background(), say("set a timer"))
	if d.Kind != dispatch.Prompted || d.Command != "timer.set" {
		t.Fatalf("disposition = %+v", d)
	}
	if prompt := f.speaker.wait(t); !strings.Contains(prompt, "duration") {
		t.Errorf("prompt = %q", prompt)
	}

	d = f.engine.Dispatch(context.Background(), say("five minutes"))
	if d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	if r := f.speaker.wait(t); r != "timer set" {
		t.Errorf("spoke %q", r)
	}
	if got["duration"] != 5*time.Minute {
		t.Errorf("duration = %v", got["duration"])
	}
}

func TestDispatch_ChoiceParamPrompt(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:   "home.lights",
		Action: "home.lights",
		Params: []command.ParamSpec{
			{Name: "state", Type: command.ParamChoice, Choices: []string{"on", "off"}, Required: true},
		},
		Patterns: []command.Pattern{
			mustPattern(t, "lights <state>"),
			mustPattern(t, "lights"),
		},
	}}
	f := newFixture(t, dispatch.Config{}, defs)

	var got map[string]any
	f.actions.Register("home.lights", func(_ context.Context, params map[string]any) (string, error) {
		got = params
		return "done", nil
	})

	d := f.engine.Dispatch(context.Background(), say("lights"))
	if d.Kind != dispatch.Prompted {
		t.Fatalf("disposition = %+v", d)
	}
	f.speaker.wait(t)
	d = f.engine.Dispatch(context.Background(), say("off"))
	if d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	f.speaker.wait(t)
	if got["state"] != "off" {
		t.Errorf("state = %v", got["state"])
	}
}

func TestDispatch_SensitiveConfirmYes(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:     "system.wipe",
		Action:   "system.wipe",
		Flags:    command.Flags{Sensitive: true},
		Patterns: []command.Pattern{mustPattern(t, "wipe everything")},
	}}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("system.wipe", "wiped")

	d := f.engine.Dispatch(context.Background(), say("wipe everything"))
	if d.Kind != dispatch.AwaitingConfirmation {
		t.Fatalf("disposition = %+v", d)
	}
	if prompt := f.speaker.wait(t); !strings.Contains(prompt, "sure") {
		t.Errorf("prompt = %q", prompt)
	}

	d = f.engine.Dispatch(context.Background(), say("yes"))
	if d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	if r := f.speaker.wait(t); r != "wiped" {
		t.Errorf("spoke %q", r)
	}
}

func TestDispatch_SensitiveConfirmNo(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:     "system.wipe",
		Action:   "system.wipe",
		Flags:    command.Flags{Sensitive: true},
		Patterns: []command.Pattern{mustPattern(t, "wipe everything")},
	}}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("system.wipe", "wiped")

	if d := f.engine.Dispatch(context.Background(), say("wipe everything")); d.Kind != dispatch.AwaitingConfirmation {
		t.Fatalf("disposition = %+v", d)
	}
	d := f.engine.Dispatch(context.Background(), say("no"))
	if d.Kind != dispatch.Cancelled {
		t.Fatalf("disposition = %+v", d)
	}
	// The action must not have run.
	for _, text := range f.speaker.spoken() {
		if text == "wiped" {
			t.Fatal("declined sensitive command still ran")
		}
	}
}

func TestDispatch_OnlineCommandRejectedOffline(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:     "net.ping",
		Action:   "net.ping",
		Flags:    command.Flags{Online: true},
		Patterns: []command.Pattern{mustPattern(t, "ping home")},
	}}
	probe := func(context.Context) bool { return false }
	f := newFixture(t, dispatch.Config{}, defs, dispatch.WithConnectivityProbe(probe))
	f.echo("net.ping", "pong")

	d := f.engine.Dispatch(context.Background(), say("ping home"))
	if d.Kind != dispatch.Rejected {
		t.Fatalf("disposition = %+v", d)
	}
	if got := f.speaker.wait(t); !strings.Contains(got, "network") {
		t.Errorf("spoke %q", got)
	}
}

func TestDispatch_BusyAndCancel(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{
		playDef(t),
		{Name: "media.stop", Action: "media.stop", Patterns: []command.Pattern{mustPattern(t, "stop everything")}},
	}
	f := newFixture(t, dispatch.Config{}, defs)

	started := make(chan struct{})
	f.actions.Register("media.play", func(ctx context.Context, _ map[string]any) (string, error) {
		close(started)
		<-ctx.Done()
		return "interrupted", nil
	})
	f.echo("media.stop", "stopped")

	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	<-started

	d := f.engine.Dispatch(context.Background(), say("stop everything"))
	if d.Kind != dispatch.Busy {
		t.Fatalf("disposition while busy = %+v", d)
	}

	d = f.engine.Dispatch(context.Background(), say("cancel"))
	if d.Kind != dispatch.Cancelled {
		t.Fatalf("cancel disposition = %+v", d)
	}
	// The discarded result must never be spoken.
	deadline := time.After(time.Second)
	for {
		select {
		case text := <-f.speaker.ch:
			if text == "interrupted" {
				t.Fatal("cancelled action result was spoken")
			}
		case <-deadline:
			return
		}
	}
}

func TestDispatch_ResponseAndNotify(t *testing.T) {
	t.Parallel()
	defs := []*command.Definition{{
		Name:     "home.garage",
		Action:   "home.garage",
		Response: "opening the garage",
		Flags:    command.Flags{Notify: true},
		Patterns: []command.Pattern{mustPattern(t, "open garage")},
	}}
	f := newFixture(t, dispatch.Config{}, defs)
	f.echo("home.garage", "")

	if d := f.engine.Dispatch(context.Background(), say("open garage")); d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	if cue := f.speaker.wait(t); cue != "on it" {
		t.Errorf("notify cue = %q", cue)
	}
	if ack := f.speaker.wait(t); ack != "opening the garage" {
		t.Errorf("ack = %q", ack)
	}
}

func TestDispatch_WakeGating(t *testing.T) {
	t.Parallel()
	cfg := dispatch.Config{
		Wake: dispatch.WakeConfig{Enabled: true, Phrase: "hey vesper", Window: 10 * time.Second},
	}
	f := newFixture(t, cfg, []*command.Definition{playDef(t)})
	f.echo("media.play", "playing")

	// Outside any wake window: ignored without speech.
	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ignored {
		t.Fatalf("disposition = %+v", d)
	}

	// Bare wake phrase opens the window and acknowledges.
	d := f.engine.Dispatch(context.Background(), say("hey vesper"))
	if d.Kind != dispatch.Woke {
		t.Fatalf("disposition = %+v", d)
	}
	if ack := f.speaker.wait(t); ack != "yes?" {
		t.Errorf("ack = %q", ack)
	}

	// Within the window commands dispatch normally.
	f.clock.advance(5 * time.Second)
	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Invoked {
		t.Fatalf("disposition = %+v", d)
	}
	f.speaker.wait(t)

	// Each dispatch restarts the window; let it lapse fully.
	f.clock.advance(11 * time.Second)
	if d := f.engine.Dispatch(context.Background(), say("play music")); d.Kind != dispatch.Ignored {
		t.Fatalf("after window lapse: %+v", d)
	}
}

func TestDispatch_WakePhrasePrefix(t *testing.T) {
	t.Parallel()
	cfg := dispatch.Config{
		Wake: dispatch.WakeConfig{Enabled: true, Phrase: "hey vesper", Window: 10 * time.Second},
	}
	f := newFixture(t, cfg, []*command.Definition{playDef(t)})
	f.echo("media.play", "playing")

	// Wake phrase and command in one utterance.
	d := f.engine.Dispatch(context.Background(), say("hey vesper play music"))
	if d.Kind != dispatch.Invoked || d.Command != "media.play" {
		t.Fatalf("disposition = %+v", d)
	}
}
