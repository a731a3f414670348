// Package synthesizer defines the Provider interface for text-to-speech
// backends.
//
// A synthesizer turns response text into audible speech on whatever output
// the implementation owns: a WebSocket speech service that plays through
// the host's speakers, or a local espeak-ng process. Speak blocks until the
// utterance has been handed off to the backend, not until playback ends.
//
// Implementations must be safe for concurrent use.
package synthesizer

import (
	"context"

	"github.com/halvard/vesper/pkg/types"
)

// Provider voices text.
type Provider interface {
	// Name returns the provider's stable identifier, used in config and
	// logs (e.g., "websocket", "espeak", "mock").
	Name() string

	// Speak synthesizes text with the given voice profile. A zero-value
	// profile selects the provider's default voice.
	Speak(ctx context.Context, text string, voice types.VoiceProfile) error
}
