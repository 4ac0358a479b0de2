package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
	"github.com/google/uuid"
)

// realtimeConn is the part of *openairt.Conn the session uses
type realtimeConn interface {
	SendMessage(ctx context.Context, msg openairt.ClientEvent) error
	ReadMessage(ctx context.Context) (openairt.ServerEvent, error)
	Close() error
}

// interruptTimeout bounds the response.cancel sends of Interrupt
const interruptTimeout = 2 * time.Second

// realtimeLink is one open connection plus the order in which its responses were
// requested and created, so audio can be attributed to the chunk that asked for it
type realtimeLink struct {
	realtimeConn

	mu        sync.Mutex
	requested int
	created   int
	staleUpTo int            // responses requested before the last Interrupt
	ordinals  map[string]int // response id -> creation order
}

func (l *realtimeLink) responseCreated(id string) {
	l.mu.Lock()
	l.created++
	l.ordinals[id] = l.created
	l.mu.Unlock()
}

func (l *realtimeLink) responseDone(id string) {
	l.mu.Lock()
	delete(l.ordinals, id)
	l.mu.Unlock()
}

// stale reports whether id belongs to a response requested before the last Interrupt
func (l *realtimeLink) stale(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ord, ok := l.ordinals[id]
	return ok && ord <= l.staleUpTo
}

// interrupt marks every response requested so far as stale and returns the ids among them
// that are still running
func (l *realtimeLink) interrupt() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staleUpTo = l.requested
	var running []string
	for id, ord := range l.ordinals {
		if ord <= l.staleUpTo {
			running = append(running, id)
		}
	}
	return running
}

// RealtimeSession drives the OpenAI Realtime API as a streaming speech backend. Each chunk
// becomes a user message plus a response request; audio deltas come back as PCM16.
type RealtimeSession struct {
	cfg     types.RealtimeConfig
	connect func(ctx context.Context) (realtimeConn, error)

	sessions *sessionManager[*realtimeLink]

	sinkMu sync.Mutex
	sink   Sink
}

// NewRealtimeSession creates a closed session against the OpenAI Realtime API
func NewRealtimeSession(apiKey string, cfg types.RealtimeConfig) *RealtimeSession {
	client := openairt.NewClient(apiKey)
	return newRealtimeSession(cfg, func(ctx context.Context) (realtimeConn, error) {
		return client.Connect(ctx, openairt.WithModel(cfg.Model))
	})
}

func newRealtimeSession(cfg types.RealtimeConfig, connect func(context.Context) (realtimeConn, error)) *RealtimeSession {
	s := &RealtimeSession{cfg: cfg, connect: connect}
	s.sessions = newSessionManager(s.dial, func(l *realtimeLink) {
		go s.readLoop(l, uuid.New().String())
	})
	return s
}

func (s *RealtimeSession) Name() string {
	return string(types.BackendRealtime)
}

// State returns the current connection state
func (s *RealtimeSession) State() SessionState {
	return s.sessions.State()
}

// EnsureConnected opens and configures the session if needed
func (s *RealtimeSession) EnsureConnected(ctx context.Context) error {
	_, err := s.sessions.ensure(ctx)
	return err
}

func (s *RealtimeSession) dial(ctx context.Context) (*realtimeLink, error) {
	logger.Debugf("🔌 Connecting realtime session (model: %s, voice: %s)", s.cfg.Model, s.cfg.Voice)
	c, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	err = c.SendMessage(ctx, &openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Voice:             openairt.Voice(s.cfg.Voice),
			OutputAudioFormat: openairt.AudioFormatPcm16,
			Instructions:      s.cfg.Instructions,
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: session update failed: %v", ErrConnection, err)
	}
	return &realtimeLink{realtimeConn: c, ordinals: make(map[string]int)}, nil
}

// Synthesize queues chunk as a new response on the open session
func (s *RealtimeSession) Synthesize(ctx context.Context, chunk string, sink Sink) error {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()

	c, err := s.sessions.ensure(ctx)
	if err != nil {
		return err
	}

	err = c.SendMessage(ctx, &openairt.ConversationItemCreateEvent{
		Item: openairt.MessageItem{
			Type: openairt.MessageItemTypeMessage,
			Role: openairt.MessageRoleUser,
			Content: []openairt.MessageContentPart{
				{
					Type: openairt.MessageContentTypeInputText,
					Text: chunk,
				},
			},
		},
	})
	if err == nil {
		// counted before sending so an Interrupt racing this call still covers it
		c.mu.Lock()
		c.requested++
		c.mu.Unlock()
		err = c.SendMessage(ctx, &openairt.ResponseCreateEvent{
			Response: openairt.ResponseCreateParams{
				Modalities:        []openairt.Modality{openairt.ModalityAudio, openairt.ModalityText},
				Voice:             openairt.Voice(s.cfg.Voice),
				OutputAudioFormat: openairt.AudioFormatPcm16,
			},
		})
	}
	if err != nil {
		if s.sessions.drop(c) {
			c.Close()
		}
		return fmt.Errorf("%w: failed to send chunk: %v", ErrConnection, err)
	}
	return nil
}

// Interrupt discards audio of every response requested so far and cancels the ones still
// running. The session stays open.
func (s *RealtimeSession) Interrupt() {
	s.sinkMu.Lock()
	s.sink = nil
	s.sinkMu.Unlock()

	l, ok := s.sessions.open()
	if !ok {
		return
	}
	running := l.interrupt()
	if len(running) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	for _, id := range running {
		if err := l.SendMessage(ctx, &openairt.ResponseCancelEvent{ResponseID: id}); err != nil {
			logger.Debugf("Failed to cancel realtime response %s: %v", id, err)
		}
	}
}

func (s *RealtimeSession) deliver(l *realtimeLink, p audio.Payload) {
	if !s.sessions.owns(l) {
		return
	}
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	if sink != nil {
		sink(p)
	}
}

func (s *RealtimeSession) readLoop(c *realtimeLink, sessionID string) {
	log := logger.With("realtime", "session", sessionID)
	log.Debug().Msg("Realtime session open")

	for {
		event, err := c.ReadMessage(context.Background())
		if err != nil {
			if s.sessions.drop(c) {
				c.Close()
				log.Warn().Err(err).Msg("Realtime session lost")
			}
			return
		}

		switch event.ServerEventType() {
		case openairt.ServerEventTypeResponseCreated:
			if e, ok := event.(openairt.ResponseCreatedEvent); ok {
				c.responseCreated(e.Response.ID)
			}

		case openairt.ServerEventTypeResponseAudioDelta:
			delta, ok := event.(openairt.ResponseAudioDeltaEvent)
			if !ok || c.stale(delta.ResponseID) {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(delta.Delta)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring undecodable audio delta")
				continue
			}
			if len(raw) > 0 {
				s.deliver(c, audio.Payload{Format: audio.FormatPCM16, Data: raw, SampleRate: audio.PCMSampleRate})
			}

		case openairt.ServerEventTypeResponseDone:
			if e, ok := event.(openairt.ResponseDoneEvent); ok {
				c.responseDone(e.Response.ID)
			}
			log.Debug().Msg("Realtime response done")

		case openairt.ServerEventTypeError:
			if e, ok := event.(openairt.ErrorEvent); ok {
				log.Error().Str("type", e.Error.Type).Str("message", e.Error.Message).Msg("Realtime API error")
			}
		}
	}
}

// Close ends the current session; a later Synthesize reconnects
func (s *RealtimeSession) Close() error {
	c, wasOpen := s.sessions.close()
	if !wasOpen {
		return nil
	}
	return c.Close()
}
