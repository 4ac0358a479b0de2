package tts

import (
	"testing"

	"github.com/dooshek/speakstream/internal/types"
)

func TestNewBackendSelectsByKind(t *testing.T) {
	cfg := (&types.Config{Speaker: types.SpeakerConfig{Keys: types.Keys{
		ElevenLabsKey: "e", OpenAIKey: "o", GeminiKey: "g",
	}}}).GetSpeakerConfig()

	for _, kind := range []types.BackendKind{types.BackendStream, types.BackendRealtime, types.BackendRequest, types.BackendOpenAI} {
		cfg.Backend = kind
		b, err := NewBackend(cfg)
		if err != nil {
			t.Fatalf("NewBackend(%s) failed: %v", kind, err)
		}
		if b.Name() != string(kind) {
			t.Errorf("Expected backend %s, got %s", kind, b.Name())
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close() on an idle backend failed: %v", err)
		}
	}
}

func TestNewBackendRequiresKey(t *testing.T) {
	for _, kind := range []types.BackendKind{types.BackendStream, types.BackendRealtime, types.BackendRequest, types.BackendOpenAI} {
		if _, err := NewBackend(types.SpeakerConfig{Backend: kind}); err == nil {
			t.Errorf("Expected missing key error for %s", kind)
		}
	}
	if _, err := NewBackend(types.SpeakerConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
