// Package mock provides a test double for the synthesizer package.
//
// Use Provider to record what the caller speaks and optionally force
// errors:
//
//	syn := &mock.Provider{}
//	engine.Speak(ctx, "hello", types.VoiceProfile{})
//	got := syn.Spoken() // ["hello"]
package mock

import (
	"context"
	"sync"

	"github.com/halvard/vesper/pkg/provider/synthesizer"
	"github.com/halvard/vesper/pkg/types"
)

// SpeakCall records a single invocation of Provider.Speak.
type SpeakCall struct {
	// Text is the utterance passed to Speak.
	Text string
	// Voice is the profile passed to Speak.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of synthesizer.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned from every Speak call.
	SpeakErr error

	// SpeakCalls records every call to Speak.
	SpeakCalls []SpeakCall

	// Ch, when non-nil, receives each spoken text. Useful for tests that
	// wait for asynchronous speech.
	Ch chan string
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// Speak records the call and returns SpeakErr.
func (p *Provider) Speak(ctx context.Context, text string, voice types.VoiceProfile) error {
	p.mu.Lock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Text: text, Voice: voice})
	ch := p.Ch
	err := p.SpeakErr
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if ch != nil {
		select {
		case ch <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Spoken returns a copy of all spoken texts in order. Thread-safe.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SpeakCalls))
	for i, c := range p.SpeakCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = nil
}

// Ensure Provider implements synthesizer.Provider at compile time.
var _ synthesizer.Provider = (*Provider)(nil)
