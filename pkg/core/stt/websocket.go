package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

const defaultModel = "conference-enhanced"

// WSClient is the production STT adapter. It speaks a WebSocket wire:
// configuration via query parameters, raw PCM as binary frames, JSON
// result frames back, and the text commands "finalize" and "done".
type WSClient struct {
	baseURL string
	apiKey  string
	model   string
	dialer  *websocket.Dialer
}

// WSOption customizes the client.
type WSOption func(*WSClient)

// WithModel overrides the recognition model.
func WithModel(model string) WSOption {
	return func(c *WSClient) { c.model = model }
}

// WithDialer overrides the WebSocket dialer (tests, proxies).
func WithDialer(d *websocket.Dialer) WSOption {
	return func(c *WSClient) { c.dialer = d }
}

// NewWSClient creates a streaming STT client against baseURL
// (e.g. "wss://stt.example.com").
func NewWSClient(baseURL, apiKey string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   defaultModel,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewStream opens one long-lived bidirectional recognition session.
func (c *WSClient) NewStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	u, err := url.Parse(c.baseURL + "/v1/recognize")
	if err != nil {
		return nil, fmt.Errorf("parse stt url: %w", err)
	}

	q := u.Query()
	model := c.model
	if cfg.EnhancedModel && model == "" {
		model = defaultModel
	}
	q.Set("model", model)
	q.Set("encoding", "pcm_s16le") // LINEAR16 on the wire
	sampleRate := cfg.SampleRateHz
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	lang := cfg.PrimaryLanguageCode
	if lang == "" {
		lang = "en-US"
	}
	q.Set("language", lang)
	if len(cfg.AlternativeLanguageCodes) > 0 {
		q.Set("alternative_languages", strings.Join(cfg.AlternativeLanguageCodes, ","))
	}
	q.Set("punctuation", boolParam(cfg.EnableAutomaticPunctuation))
	q.Set("interim_results", boolParam(cfg.InterimResults))
	q.Set("single_utterance", boolParam(cfg.SingleUtterance))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, providers.New("stt", "", resp.StatusCode,
				fmt.Sprintf("websocket connect: %s", strings.TrimSpace(string(body))))
		}
		return nil, providers.Wrap("stt", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &wsStream{
		conn:    conn,
		results: make(chan Result, 100),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.readLoop()
	return s, nil
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type wsStream struct {
	conn    *websocket.Conn
	results chan Result
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
	ctx     context.Context
	cancel  context.CancelFunc
}

// wsResultFrame is the provider's JSON result message.
type wsResultFrame struct {
	Type         string  `json:"type"` // "result", "end", "error"
	Transcript   string  `json:"transcript"`
	LanguageCode string  `json:"language_code"`
	Confidence   float64 `json:"confidence"`
	IsFinal      bool    `json:"is_final"`
	Code         string  `json:"code,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(providers.Wrap("stt", err))
			}
			return
		}

		var frame wsResultFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "result":
			res := Result{
				Transcript:   frame.Transcript,
				LanguageCode: frame.LanguageCode,
				Confidence:   frame.Confidence,
				IsFinal:      frame.IsFinal,
			}
			select {
			case s.results <- res:
			case <-s.ctx.Done():
				return
			}

		case "end":
			// Provider hit its session duration cap; a normal close.
			return

		case "error":
			s.setErr(providers.New("stt", frame.Code, 0, frame.Error))
			return
		}
	}
}

func (s *wsStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// SendAudio forwards a raw PCM frame.
func (s *wsStream) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Results yields recognition events.
func (s *wsStream) Results() <-chan Result {
	return s.results
}

// Done is closed when the session has terminated.
func (s *wsStream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended.
func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes pending audio and tears the session down.
func (s *wsStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
	s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
