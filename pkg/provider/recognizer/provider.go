// Package recognizer defines the Provider interface for speech recognition
// backends.
//
// A recognizer wraps a speech-to-text service that owns the microphone and
// audio pipeline (e.g., a local Vosk daemon or a hosted streaming API) and
// exposes a uniform stream of finalized utterances. The central abstraction
// is Session: once opened, a session emits Transcript values on Finals as
// the user finishes speaking. Interim hypotheses are the recognizer's own
// business; only finals cross this boundary.
//
// Implementations must be safe for concurrent use.
package recognizer

import (
	"context"

	"github.com/halvard/vesper/pkg/types"
)

// StreamConfig describes recognition hints for a new session.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider use its default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as command names.
	Keywords []string
}

// Session is an open recognition stream. Callers must call Close when the
// session is no longer needed; failing to do so may leak goroutines and
// network connections inside the provider implementation. All methods must
// be safe for concurrent use.
type Session interface {
	// Finals returns a read-only channel emitting one Transcript per
	// finalized utterance, in recognition order. The channel is closed
	// when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session and releases its resources. Closing an
	// already-closed session is a no-op.
	Close() error
}

// Provider opens recognition sessions.
type Provider interface {
	// Name returns the provider's stable identifier, used in config and
	// logs (e.g., "websocket", "mock").
	Name() string

	// Listen opens a recognition session. The session stays open until
	// Close is called or the provider's backend ends it.
	Listen(ctx context.Context, cfg StreamConfig) (Session, error)
}
