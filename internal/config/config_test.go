package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dooshek/speakstream/internal/fileops"
	"github.com/dooshek/speakstream/internal/types"
)

func TestLoadMissingConfig(t *testing.T) {
	f := fileops.NewFileOps(t.TempDir())

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg != nil {
		t.Errorf("Expected nil config when file is missing, got %+v", cfg)
	}
}

func TestSaveLoadRoundTripAndMerge(t *testing.T) {
	f := fileops.NewFileOps(t.TempDir())

	first := &types.Config{Speaker: types.SpeakerConfig{
		Backend: types.BackendRequest,
		Keys:    types.Keys{GeminiKey: "g-key"},
		Request: types.RequestConfig{Voice: "Puck"},
	}}
	if err := Save(f, first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Second save only changes the backend; everything else must survive the merge
	second := &types.Config{Speaker: types.SpeakerConfig{Backend: types.BackendStream}}
	if err := Save(f, second); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Speaker.Backend != types.BackendStream {
		t.Errorf("Expected backend stream, got %q", cfg.Speaker.Backend)
	}
	if cfg.Speaker.Keys.GeminiKey != "g-key" {
		t.Errorf("Expected Gemini key to survive merge, got %q", cfg.Speaker.Keys.GeminiKey)
	}
	if cfg.Speaker.Request.Voice != "Puck" {
		t.Errorf("Expected request voice Puck, got %q", cfg.Speaker.Request.Voice)
	}
}

func TestApplyEnvOverridesKeys(t *testing.T) {
	t.Setenv("SPEAKSTREAM_OPENAI_API_KEY", "env-openai")

	cfg := &types.Config{Speaker: types.SpeakerConfig{Keys: types.Keys{
		OpenAIKey:     "file-openai",
		ElevenLabsKey: "file-eleven",
	}}}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() failed: %v", err)
	}
	if cfg.Speaker.Keys.OpenAIKey != "env-openai" {
		t.Errorf("Expected env key to win, got %q", cfg.Speaker.Keys.OpenAIKey)
	}
	if cfg.Speaker.Keys.ElevenLabsKey != "file-eleven" {
		t.Errorf("Expected unset env key to keep file value, got %q", cfg.Speaker.Keys.ElevenLabsKey)
	}
}

func TestWizardWritesSelectedBackend(t *testing.T) {
	f := fileops.NewFileOps(t.TempDir())
	in := strings.NewReader("3\nsecret\nCharon\n")
	var out bytes.Buffer

	if err := RunWizardWith(in, &out, f); err != nil {
		t.Fatalf("RunWizardWith() failed: %v", err)
	}

	cfg, err := read(f)
	if err != nil || cfg == nil {
		t.Fatalf("read() failed: %v", err)
	}
	if cfg.Speaker.Backend != types.BackendRequest {
		t.Errorf("Expected request backend, got %q", cfg.Speaker.Backend)
	}
	if cfg.Speaker.Keys.GeminiKey != "secret" || cfg.Speaker.Request.Voice != "Charon" {
		t.Errorf("Unexpected wizard result %+v", cfg.Speaker)
	}
}

func TestWizardRejectsBadChoice(t *testing.T) {
	f := fileops.NewFileOps(t.TempDir())
	in := strings.NewReader("9\n")
	var out bytes.Buffer

	if err := RunWizardWith(in, &out, f); err == nil {
		t.Error("Expected error for out-of-range backend choice")
	}
}
