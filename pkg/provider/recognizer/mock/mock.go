// Package mock provides test doubles for the recognizer package interfaces.
//
// Use Provider to verify that the caller opens sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values.
//
// Example:
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Listen(ctx, cfg)
//	sess.Emit(types.Transcript{Text: "play music"})
package mock

import (
	"context"
	"sync"

	"github.com/halvard/vesper/pkg/provider/recognizer"
	"github.com/halvard/vesper/pkg/types"
)

// ListenCall records a single invocation of Provider.Listen.
type ListenCall struct {
	// Ctx is the context passed to Listen.
	Ctx context.Context
	// Cfg is the StreamConfig passed to Listen.
	Cfg recognizer.StreamConfig
}

// Provider is a mock implementation of recognizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Listen. If nil, Listen returns a
	// new default Session with a buffered channel.
	Session recognizer.Session

	// ListenErr, if non-nil, is returned as the error from Listen.
	ListenErr error

	// ListenCalls records every call to Listen.
	ListenCalls []ListenCall
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// Listen records the call and returns Session, ListenErr.
func (p *Provider) Listen(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListenCalls = append(p.ListenCalls, ListenCall{Ctx: ctx, Cfg: cfg})
	if p.ListenErr != nil {
		return nil, p.ListenErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListenCalls = nil
}

// Ensure Provider implements recognizer.Provider at compile time.
var _ recognizer.Provider = (*Provider)(nil)

// Session is a mock implementation of recognizer.Session. Feed transcripts
// with Emit; close the stream with Close.
type Session struct {
	finals chan types.Transcript

	mu     sync.Mutex
	closed bool
}

// NewSession returns a Session whose Finals channel has the given buffer.
func NewSession(buf int) *Session {
	return &Session{finals: make(chan types.Transcript, buf)}
}

// Emit delivers one transcript on the Finals channel. Emit after Close is a
// no-op.
func (s *Session) Emit(tr types.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.finals <- tr
}

// Finals returns the transcript channel.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// Close closes the Finals channel. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.finals)
	}
	return nil
}

// Ensure Session implements recognizer.Session at compile time.
var _ recognizer.Session = (*Session)(nil)
