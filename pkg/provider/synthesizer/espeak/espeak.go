// Package espeak provides a local synthesizer.Provider that shells out to
// the espeak-ng binary. It needs no network and no API key, which makes it
// the fallback voice when nothing else is configured.
package espeak

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/halvard/vesper/pkg/types"
)

const defaultBinary = "espeak-ng"

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithBinary overrides the espeak-ng executable path.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithDefaultVoice sets the voice used when the profile has no ID
// (an espeak-ng voice name such as "en-us" or "en+f3").
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.defaultVoice = voice }
}

// Provider implements synthesizer.Provider by invoking espeak-ng once per
// utterance. Utterances are serialized so they never talk over each other.
type Provider struct {
	binary       string
	defaultVoice string

	mu sync.Mutex
}

// New creates a Provider and verifies the binary is on PATH.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{binary: defaultBinary}
	for _, o := range opts {
		o(p)
	}
	if _, err := exec.LookPath(p.binary); err != nil {
		return nil, fmt.Errorf("espeak: binary not found: %w", err)
	}
	return p, nil
}

// Name returns "espeak".
func (p *Provider) Name() string { return "espeak" }

// Speak runs espeak-ng with the utterance. Rate maps to words per minute
// (espeak default 175) and Pitch to the 0-99 pitch scale (default 50); a
// zero value leaves the espeak default in place.
func (p *Provider) Speak(ctx context.Context, text string, voice types.VoiceProfile) error {
	if text == "" {
		return errors.New("espeak: text must not be empty")
	}

	args := append(p.voiceArgs(voice), "--", text)

	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("espeak: %w: %s", err, out)
	}
	return nil
}

// voiceArgs maps a voice profile to espeak-ng flags. The profile's Rate and
// Pitch multipliers scale the espeak defaults (175 wpm, pitch 50).
func (p *Provider) voiceArgs(voice types.VoiceProfile) []string {
	var args []string
	v := voice.ID
	if v == "" {
		v = p.defaultVoice
	}
	if v != "" {
		args = append(args, "-v", v)
	}
	if voice.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(int(175*voice.Rate)))
	}
	if voice.Pitch > 0 {
		args = append(args, "-p", strconv.Itoa(int(50*voice.Pitch)))
	}
	return args
}
