package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
	"github.com/sashabaranov/go-openai"
)

// OpenAISpeech calls the OpenAI speech endpoint once per chunk, asking for raw PCM
type OpenAISpeech struct {
	client *openai.Client
	cfg    types.OpenAISpeechConfig
}

func NewOpenAISpeech(apiKey string, cfg types.OpenAISpeechConfig) *OpenAISpeech {
	return NewOpenAISpeechWithConfig(openai.DefaultConfig(apiKey), cfg)
}

// NewOpenAISpeechWithConfig uses a custom client config (base URL, HTTP client)
func NewOpenAISpeechWithConfig(clientConfig openai.ClientConfig, cfg types.OpenAISpeechConfig) *OpenAISpeech {
	return &OpenAISpeech{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

func (o *OpenAISpeech) Name() string {
	return string(types.BackendOpenAI)
}

// Close is a no-op; the client holds no connection
func (o *OpenAISpeech) Close() error {
	return nil
}

func (o *OpenAISpeech) Synthesize(ctx context.Context, chunk string, sink Sink) error {
	logger.Debugf("Requesting OpenAI speech for %d chars (voice: %s)", len(chunk), o.cfg.Voice)

	response, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.cfg.Model),
		Input:          chunk,
		Voice:          openai.SpeechVoice(o.cfg.Voice),
		Speed:          o.cfg.Speed,
		ResponseFormat: openai.SpeechResponseFormat("pcm"),
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	defer response.Close()

	data, err := io.ReadAll(response)
	if err != nil {
		return fmt.Errorf("%w: failed to read audio data: %v", ErrSynthesis, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty audio response", ErrSynthesis)
	}

	sink(audio.Payload{Format: audio.FormatPCM16, Data: data, SampleRate: audio.PCMSampleRate})
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", ErrSynthesis, err)
}
