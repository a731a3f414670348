// Package ws provides a recognizer.Provider backed by a WebSocket speech
// service: a daemon that owns the microphone, runs recognition, and pushes
// finalized utterances as JSON messages. It implements the
// recognizer.Provider interface.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/halvard/vesper/pkg/provider/recognizer"
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

// Provider implements recognizer.Provider over a WebSocket endpoint.
type Provider struct {
	endpoint    string
	token       string
	dialTimeout time.Duration
}

// New creates a Provider for the given ws:// or wss:// endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("recognizer/ws: endpoint must not be empty")
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

// Listen dials the speech service and starts the message read loop.
func (p *Provider) Listen(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("recognizer/ws: build URL: %w", err)
	}

	headers := http.Header{}
	if p.token != "" {
		headers.Set("Authorization", "Bearer "+p.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("recognizer/ws: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		finals: make(chan types.Transcript, 64),
		done:   make(chan struct{}),
	}
	sess.wg.Add(1)
	go sess.readLoop(ctx)
	return sess, nil
}

// buildURL appends recognition hints as query parameters.
func (p *Provider) buildURL(cfg recognizer.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if len(cfg.Keywords) > 0 {
		q.Set("keywords", strings.Join(cfg.Keywords, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultMessage is the JSON structure pushed by the speech service per
// recognition event.
type resultMessage struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// session is a live recognition stream. It implements recognizer.Session.
type session struct {
	conn   *websocket.Conn
	finals chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Finals returns the channel of finalized utterances.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// readLoop receives JSON messages and forwards finalized utterances. Only
// "final" messages carry authoritative text; anything else is dropped.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "final" || msg.Text == "" {
			continue
		}

		tr := types.Transcript{
			Text:       msg.Text,
			ReceivedAt: time.Now(),
		}
		if msg.Confidence != nil {
			tr.Confidence = *msg.Confidence
			tr.HasConfidence = true
		}

		select {
		case s.finals <- tr:
		case <-s.done:
			return
		}
	}
}
