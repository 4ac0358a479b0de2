package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
)

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// RequestBackend makes one generateContent call per chunk and returns the inline PCM16 audio
type RequestBackend struct {
	apiKey string
	cfg    types.RequestConfig
	client *http.Client
}

func NewRequestBackend(apiKey string, cfg types.RequestConfig) *RequestBackend {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RequestBackend{
		apiKey: apiKey,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *RequestBackend) Name() string {
	return string(types.BackendRequest)
}

// Close is a no-op; there is no connection to release
func (b *RequestBackend) Close() error {
	return nil
}

func (b *RequestBackend) Synthesize(ctx context.Context, chunk string, sink Sink) error {
	body := generateRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: chunk}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = b.cfg.Voice

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to encode request: %v", ErrSynthesis, err)
	}

	endpoint := strings.TrimRight(b.cfg.Endpoint, "/") + "/" + b.cfg.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", b.apiKey)

	logger.Debugf("Requesting speech for %d chars (voice: %s)", len(chunk), b.cfg.Voice)
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrSynthesis, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%w: status %d %s: %s", statusError(resp.StatusCode, apiErr.Error.Status),
			resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrSynthesis, err)
	}
	if len(out.Candidates) == 0 {
		return fmt.Errorf("%w: response has no candidates", ErrSynthesis)
	}

	var pcm []byte
	rate := audio.PCMSampleRate
	for _, part := range out.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return fmt.Errorf("%w: bad inline audio: %v", ErrSynthesis, err)
		}
		pcm = append(pcm, decoded...)
		if r := mimeRate(part.InlineData.MimeType); r > 0 {
			rate = r
		}
	}
	if len(pcm) == 0 {
		return fmt.Errorf("%w: response has no inline audio", ErrSynthesis)
	}

	sink(audio.Payload{Format: audio.FormatPCM16, Data: pcm, SampleRate: rate})
	return nil
}

// mimeRate extracts rate from "audio/L16;codec=pcm;rate=24000"
func mimeRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "rate" {
			if r, err := strconv.Atoi(v); err == nil {
				return r
			}
		}
	}
	return 0
}
