// Package ws provides a synthesizer.Provider backed by a WebSocket speech
// service that renders and plays utterances on the host. It implements the
// synthesizer.Provider interface.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/halvard/vesper/pkg/types"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// WithDialTimeout bounds the WebSocket dial. Default 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) { p.dialTimeout = d }
}

// Provider implements synthesizer.Provider over a WebSocket endpoint. The
// connection is dialed lazily on first Speak and redialed after failures.
type Provider struct {
	endpoint    string
	token       string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Provider for the given ws:// or wss:// endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("synthesizer/ws: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:    endpoint,
		dialTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "websocket".
func (p *Provider) Name() string { return "websocket" }

// speakRequest is the JSON message sent per utterance.
type speakRequest struct {
	Type  string  `json:"type"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

// speakReply is the service's acknowledgement.
type speakReply struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Speak sends the utterance and waits for the service's acknowledgement.
func (p *Provider) Speak(ctx context.Context, text string, voice types.VoiceProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connLocked(ctx)
	if err != nil {
		return err
	}

	req := speakRequest{
		Type:  "speak",
		Text:  text,
		Voice: voice.ID,
		Rate:  voice.Rate,
		Pitch: voice.Pitch,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("synthesizer/ws: marshal request: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		p.dropLocked()
		return fmt.Errorf("synthesizer/ws: write: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		p.dropLocked()
		return fmt.Errorf("synthesizer/ws: read ack: %w", err)
	}
	var reply speakReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("synthesizer/ws: parse ack: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("synthesizer/ws: service error: %s", reply.Error)
	}
	return nil
}

// Close tears down the connection if one is open.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close(websocket.StatusNormalClosure, "provider closed")
		p.conn = nil
		return err
	}
	return nil
}

// connLocked returns the live connection, dialing if needed. Caller holds mu.
func (p *Provider) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if p.conn != nil {
		return p.conn, nil
	}
	headers := http.Header{}
	if p.token != "" {
		headers.Set("Authorization", "Bearer "+p.token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizer/ws: dial: %w", err)
	}
	p.conn = conn
	return conn, nil
}

// dropLocked discards a connection after an I/O failure so the next Speak
// redials. Caller holds mu.
func (p *Provider) dropLocked() {
	if p.conn != nil {
		p.conn.Close(websocket.StatusInternalError, "io failure")
		p.conn = nil
	}
}
