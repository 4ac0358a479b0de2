package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type streamInitFrame struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	APIKey        string        `json:"xi_api_key"`
}

type streamTextFrame struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type streamInbound struct {
	Audio   *string `json:"audio"`
	IsFinal *bool   `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

// StreamSession speaks the stream-input websocket protocol: one init frame, then text frames,
// with base64 container audio coming back on the same socket.
type StreamSession struct {
	cfg    types.StreamConfig
	apiKey string
	dialer *websocket.Dialer

	sessions *sessionManager[*websocket.Conn]

	writeMu sync.Mutex
	sinkMu  sync.Mutex
	sink    Sink

	// unfinished is set when text goes out on the open socket and cleared by isFinal
	unfinished atomic.Bool
}

// NewStreamSession creates a closed session; the socket is opened by the first chunk
func NewStreamSession(apiKey string, cfg types.StreamConfig) *StreamSession {
	s := &StreamSession{
		cfg:    cfg,
		apiKey: apiKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
	s.sessions = newSessionManager(s.dial, func(c *websocket.Conn) {
		s.unfinished.Store(false)
		go s.readLoop(c, uuid.New().String())
	})
	return s
}

func (s *StreamSession) Name() string {
	return string(types.BackendStream)
}

// State returns the current connection state
func (s *StreamSession) State() SessionState {
	return s.sessions.State()
}

// Dials returns how many sockets have been dialed so far
func (s *StreamSession) Dials() int {
	return s.sessions.Dials()
}

// EnsureConnected opens the session if needed. Callers racing on a closed session share one
// dial and handshake.
func (s *StreamSession) EnsureConnected(ctx context.Context) error {
	_, err := s.sessions.ensure(ctx)
	return err
}

func (s *StreamSession) endpoint() (string, error) {
	raw := s.cfg.URL
	if strings.Contains(raw, "%s") {
		raw = fmt.Sprintf(raw, url.PathEscape(s.cfg.VoiceID))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid stream url: %v", ErrConnection, err)
	}
	q := u.Query()
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *StreamSession) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)

	logger.Debugf("🔌 Connecting stream session to %s", endpoint)
	c, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d: %v", ErrConnection, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	init := streamInitFrame{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
		},
		APIKey: s.apiKey,
	}
	if err := c.WriteJSON(init); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: failed to send init frame: %v", ErrConnection, err)
	}
	return c, nil
}

// Synthesize sends chunk on the open session, connecting first if needed. Audio for it
// reaches sink asynchronously.
func (s *StreamSession) Synthesize(ctx context.Context, chunk string, sink Sink) error {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()

	c, err := s.sessions.ensure(ctx)
	if err != nil {
		return err
	}

	s.unfinished.Store(true)
	s.writeMu.Lock()
	err = c.WriteJSON(streamTextFrame{Text: chunk + " ", TryTriggerGeneration: true})
	s.writeMu.Unlock()
	if err != nil {
		if s.sessions.drop(c) {
			c.Close()
		}
		return fmt.Errorf("%w: failed to send text: %v", ErrConnection, err)
	}
	return nil
}

// Interrupt discards audio still owed for chunks already sent. Stream-input frames do not
// say which chunk they belong to, so a socket with generation in flight is retired and the
// next chunk reconnects. An idle socket stays open.
func (s *StreamSession) Interrupt() {
	s.sinkMu.Lock()
	s.sink = nil
	s.sinkMu.Unlock()

	if !s.unfinished.Swap(false) {
		return
	}
	c, wasOpen := s.sessions.close()
	if !wasOpen {
		return
	}
	if err := c.Close(); err != nil {
		logger.Debugf("Failed to close interrupted stream session: %v", err)
	}
	logger.Debugf("🔌 Stream session retired with audio in flight")
}

func (s *StreamSession) deliver(c *websocket.Conn, p audio.Payload) {
	if !s.sessions.owns(c) {
		return
	}
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	if sink != nil {
		sink(p)
	}
}

func (s *StreamSession) readLoop(c *websocket.Conn, sessionID string) {
	log := logger.With("stream", "session", sessionID)
	log.Debug().Msg("Stream session open")

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if s.sessions.drop(c) {
				c.Close()
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Msg("Stream session closed by server")
				} else {
					log.Warn().Err(err).Msg("Stream session lost")
				}
			}
			return
		}

		var msg streamInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed stream frame")
			continue
		}

		if msg.Error != "" {
			log.Error().Str("error", msg.Error).Str("message", msg.Message).Msg("Stream session reported an error")
		}
		if msg.Audio != nil && *msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(*msg.Audio)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring undecodable audio fragment")
			} else {
				s.deliver(c, audio.Payload{Format: audio.FormatContainer, Data: raw})
			}
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			if s.sessions.owns(c) {
				s.unfinished.Store(false)
			}
			log.Debug().Msg("Stream generation final")
		}
	}
}

// Close ends the current session with an empty text frame. A later Synthesize reconnects.
func (s *StreamSession) Close() error {
	c, wasOpen := s.sessions.close()
	if !wasOpen {
		return nil
	}
	s.writeMu.Lock()
	_ = c.WriteJSON(streamTextFrame{Text: ""})
	s.writeMu.Unlock()
	return c.Close()
}
