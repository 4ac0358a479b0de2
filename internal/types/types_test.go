package types

import "testing"

func TestGetSpeakerConfigDefaults(t *testing.T) {
	cfg := &Config{}
	sc := cfg.GetSpeakerConfig()

	if sc.Backend != BackendStream {
		t.Errorf("Expected default backend %q, got %q", BackendStream, sc.Backend)
	}
	if sc.Playback.SampleRate != 24000 {
		t.Errorf("Expected default sample rate 24000, got %d", sc.Playback.SampleRate)
	}
	if sc.Playback.ChunkThreshold != 100 {
		t.Errorf("Expected default chunk threshold 100, got %d", sc.Playback.ChunkThreshold)
	}
	if sc.Playback.FrameInterval().Milliseconds() != 16 {
		t.Errorf("Expected 16ms frame interval, got %v", sc.Playback.FrameInterval())
	}
	if sc.Request.Voice != "Kore" {
		t.Errorf("Expected default request voice Kore, got %q", sc.Request.Voice)
	}
}

func TestGetSpeakerConfigKeepsExplicitValues(t *testing.T) {
	cfg := &Config{Speaker: SpeakerConfig{
		Backend:  BackendRequest,
		Playback: PlaybackConfig{SampleRate: 48000, Channels: 2},
		Stream:   StreamConfig{VoiceID: "custom"},
	}}
	sc := cfg.GetSpeakerConfig()

	if sc.Backend != BackendRequest {
		t.Errorf("Expected backend %q, got %q", BackendRequest, sc.Backend)
	}
	if sc.Playback.SampleRate != 48000 || sc.Playback.Channels != 2 {
		t.Errorf("Expected 48000/2, got %d/%d", sc.Playback.SampleRate, sc.Playback.Channels)
	}
	if sc.Stream.VoiceID != "custom" {
		t.Errorf("Expected voice id custom, got %q", sc.Stream.VoiceID)
	}
}
