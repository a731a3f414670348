// Package types defines the shared types used across all Vesper packages.
//
// These types form the lingua franca between the recognizer and synthesizer
// boundaries, the dispatch engine, and the assistant loop. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Transcript represents a speech-to-text result from a recognizer provider.
// One Transcript corresponds to one finalized spoken utterance.
type Transcript struct {
	// Text is the raw recognized utterance as emitted by the recognizer.
	Text string

	// Confidence is the overall recognition confidence (0.0–1.0). Zero when
	// the recognizer does not report confidence; the dispatch engine treats
	// zero as "no confidence data" rather than "confidently wrong".
	Confidence float64

	// HasConfidence reports whether Confidence carries real recognizer data.
	HasConfidence bool

	// ReceivedAt marks when the finalized utterance arrived.
	ReceivedAt time.Time
}

// VoiceProfile identifies a synthesizer voice. Providers interpret the
// fields they understand and ignore the rest.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., an espeak-ng voice
	// name such as "en-us", or a remote daemon's voice key).
	ID string

	// Rate is a speaking-rate multiplier around the provider's default
	// (1.0 is neutral). 0 means provider default.
	Rate float64

	// Pitch is a pitch multiplier around the provider's default (1.0 is
	// neutral). 0 means provider default.
	Pitch float64
}
