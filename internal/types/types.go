package types

import "time"

// BackendKind names a synthesis backend
type BackendKind string

const (
	BackendStream   BackendKind = "stream"   // ElevenLabs-style stream-input websocket session
	BackendRealtime BackendKind = "realtime" // OpenAI Realtime websocket session
	BackendRequest  BackendKind = "request"  // Gemini-style generateContent, one call per chunk
	BackendOpenAI   BackendKind = "openai"   // OpenAI speech endpoint, one call per chunk
)

// Keys holds backend credentials. Every field can be overlaid from the environment.
type Keys struct {
	ElevenLabsKey string `yaml:"elevenlabs_api_key" envconfig:"ELEVENLABS_API_KEY"`
	OpenAIKey     string `yaml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	GeminiKey     string `yaml:"gemini_api_key" envconfig:"GEMINI_API_KEY"`
}

// StreamConfig configures the stream-input websocket backend
type StreamConfig struct {
	URL             string  `yaml:"url"`      // wss endpoint, %s is replaced by the voice id
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	OutputFormat    string  `yaml:"output_format"` // "mp3_44100_128" ...
}

// RealtimeConfig configures the OpenAI Realtime backend
type RealtimeConfig struct {
	Model        string `yaml:"model"` // "gpt-4o-realtime-preview" or "gpt-4o-mini-realtime-preview"
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
}

// RequestConfig configures the generateContent backend
type RequestConfig struct {
	Endpoint string `yaml:"endpoint"` // base URL, model is appended
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Timeout  int    `yaml:"timeout_seconds"`
}

// OpenAISpeechConfig configures the OpenAI speech backend
type OpenAISpeechConfig struct {
	Model string  `yaml:"model"` // "tts-1", "tts-1-hd", "gpt-4o-mini-tts"
	Voice string  `yaml:"voice"`
	Speed float64 `yaml:"speed"` // 0.25-4.0
}

// PlaybackConfig configures the output device and engine tuning
type PlaybackConfig struct {
	SampleRate     int `yaml:"sample_rate"`
	Channels       int `yaml:"channels"`
	ChunkThreshold int `yaml:"chunk_threshold"`  // characters before a length trigger
	FrameMs        int `yaml:"volume_frame_ms"`  // volume monitor tick
	QueueSize      int `yaml:"queue_size"`       // pending chunks / payloads before dropping
	FFTSize        int `yaml:"analyser_fft_size"`
}

// FrameInterval returns the volume monitor tick as a duration
func (p PlaybackConfig) FrameInterval() time.Duration {
	return time.Duration(p.FrameMs) * time.Millisecond
}

// SpeakerConfig is everything the playback engine needs
type SpeakerConfig struct {
	Backend  BackendKind        `yaml:"backend"`
	Keys     Keys               `yaml:"keys"`
	Stream   StreamConfig       `yaml:"stream"`
	Realtime RealtimeConfig     `yaml:"realtime"`
	Request  RequestConfig      `yaml:"request"`
	OpenAI   OpenAISpeechConfig `yaml:"openai"`
	Playback PlaybackConfig     `yaml:"playback"`
}

type Config struct {
	Speaker SpeakerConfig `yaml:"speaker"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// GetSpeakerConfig returns speaker configuration with defaults
func (c *Config) GetSpeakerConfig() SpeakerConfig {
	config := c.Speaker

	if config.Backend == "" {
		config.Backend = BackendStream
	}

	// Stream defaults
	if config.Stream.URL == "" {
		config.Stream.URL = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input"
	}
	if config.Stream.VoiceID == "" {
		config.Stream.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if config.Stream.ModelID == "" {
		config.Stream.ModelID = "eleven_turbo_v2_5"
	}
	if config.Stream.Stability == 0 {
		config.Stream.Stability = 0.5
	}
	if config.Stream.SimilarityBoost == 0 {
		config.Stream.SimilarityBoost = 0.8
	}
	if config.Stream.OutputFormat == "" {
		config.Stream.OutputFormat = "mp3_44100_128"
	}

	// Realtime defaults
	if config.Realtime.Model == "" {
		config.Realtime.Model = "gpt-4o-mini-realtime-preview"
	}
	if config.Realtime.Voice == "" {
		config.Realtime.Voice = "alloy"
	}
	if config.Realtime.Instructions == "" {
		config.Realtime.Instructions = "You are a text-to-speech system. Read the provided text aloud exactly as written. Do not add commentary."
	}

	// Request defaults
	if config.Request.Endpoint == "" {
		config.Request.Endpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	if config.Request.Model == "" {
		config.Request.Model = "gemini-2.5-flash-preview-tts"
	}
	if config.Request.Voice == "" {
		config.Request.Voice = "Kore"
	}
	if config.Request.Timeout == 0 {
		config.Request.Timeout = 30
	}

	// OpenAI speech defaults
	if config.OpenAI.Model == "" {
		config.OpenAI.Model = "tts-1"
	}
	if config.OpenAI.Voice == "" {
		config.OpenAI.Voice = "nova"
	}
	if config.OpenAI.Speed == 0 {
		config.OpenAI.Speed = 1.0
	}

	// Playback defaults
	if config.Playback.SampleRate == 0 {
		config.Playback.SampleRate = 24000
	}
	if config.Playback.Channels == 0 {
		config.Playback.Channels = 1
	}
	if config.Playback.ChunkThreshold == 0 {
		config.Playback.ChunkThreshold = 100
	}
	if config.Playback.FrameMs == 0 {
		config.Playback.FrameMs = 16
	}
	if config.Playback.QueueSize == 0 {
		config.Playback.QueueSize = 64
	}
	if config.Playback.FFTSize == 0 {
		config.Playback.FFTSize = 256
	}

	return config
}
