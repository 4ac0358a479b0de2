package tts

import (
	"fmt"

	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
)

// NewBackend creates the backend selected by cfg.Backend
func NewBackend(cfg types.SpeakerConfig) (Backend, error) {
	backend, err := createBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS backend: %w", err)
	}
	logger.Infof("Initialized TTS backend: %s", backend.Name())
	return backend, nil
}

func createBackend(cfg types.SpeakerConfig) (Backend, error) {
	switch cfg.Backend {
	case types.BackendStream, "":
		if cfg.Keys.ElevenLabsKey == "" {
			return nil, fmt.Errorf("ElevenLabs API key is required for the stream backend - configure it using the wizard")
		}
		return NewStreamSession(cfg.Keys.ElevenLabsKey, cfg.Stream), nil

	case types.BackendRealtime:
		if cfg.Keys.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required for the realtime backend - configure it using the wizard")
		}
		return NewRealtimeSession(cfg.Keys.OpenAIKey, cfg.Realtime), nil

	case types.BackendRequest:
		if cfg.Keys.GeminiKey == "" {
			return nil, fmt.Errorf("Gemini API key is required for the request backend - configure it using the wizard")
		}
		return NewRequestBackend(cfg.Keys.GeminiKey, cfg.Request), nil

	case types.BackendOpenAI:
		if cfg.Keys.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required for the openai backend - configure it using the wizard")
		}
		return NewOpenAISpeech(cfg.Keys.OpenAIKey, cfg.OpenAI), nil

	default:
		return nil, fmt.Errorf("unsupported TTS backend: %s", cfg.Backend)
	}
}
