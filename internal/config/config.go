package config

import (
	"errors"
	"fmt"

	"github.com/dooshek/speakstream/internal/fileops"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	configFilename = "speakstream.yaml"
	envPrefix      = "SPEAKSTREAM"
)

// LoadConfig reads ~/.config/speakstream/speakstream.yaml and overlays credentials from the
// environment. A missing file yields (nil, nil) so the caller can run the wizard.
func LoadConfig() (*types.Config, error) {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file operations: %w", err)
	}
	return Load(fileOps)
}

// Load reads the config through fileOps and applies the environment overlay
func Load(fileOps fileops.FileOps) (*types.Config, error) {
	config, err := read(fileOps)
	if err != nil || config == nil {
		return config, err
	}
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func read(fileOps fileops.FileOps) (*types.Config, error) {
	if err := fileOps.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	data, err := fileOps.LoadConfig(configFilename)
	if err != nil {
		if errors.Is(err, fileops.ErrConfigNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config types.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overlays API keys from SPEAKSTREAM_* (or bare) environment variables and a .env
// file in the working directory. Keys that are unset in the environment keep their YAML value.
func ApplyEnv(config *types.Config) error {
	// .env is optional
	_ = godotenv.Load()

	if err := envconfig.Process(envPrefix, &config.Speaker.Keys); err != nil {
		return fmt.Errorf("failed to load credentials from environment: %w", err)
	}
	return nil
}

// SaveConfig merges config into the existing file and writes it back
func SaveConfig(config *types.Config) error {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return fmt.Errorf("failed to initialize file operations: %w", err)
	}
	return Save(fileOps, config)
}

// Save merges config into whatever fileOps already holds and writes the result
func Save(fileOps fileops.FileOps, config *types.Config) error {
	// Read without the env overlay so environment keys never end up on disk
	existingConfig, err := read(fileOps)
	if err != nil {
		logger.Warnf("Failed to load existing config: %v", err)
	} else if existingConfig != nil {
		mergeConfigs(existingConfig, config)
		config = existingConfig
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileOps.SaveConfig(configFilename, data); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// mergeConfigs copies every explicitly set field of source into target
func mergeConfigs(target, source *types.Config) {
	s, t := &source.Speaker, &target.Speaker

	if s.Backend != "" {
		t.Backend = s.Backend
	}

	if s.Keys.ElevenLabsKey != "" {
		t.Keys.ElevenLabsKey = s.Keys.ElevenLabsKey
	}
	if s.Keys.OpenAIKey != "" {
		t.Keys.OpenAIKey = s.Keys.OpenAIKey
	}
	if s.Keys.GeminiKey != "" {
		t.Keys.GeminiKey = s.Keys.GeminiKey
	}

	if s.Stream.VoiceID != "" {
		t.Stream.VoiceID = s.Stream.VoiceID
	}
	if s.Stream.ModelID != "" {
		t.Stream.ModelID = s.Stream.ModelID
	}
	if s.Realtime.Voice != "" {
		t.Realtime.Voice = s.Realtime.Voice
	}
	if s.Realtime.Model != "" {
		t.Realtime.Model = s.Realtime.Model
	}
	if s.Request.Voice != "" {
		t.Request.Voice = s.Request.Voice
	}
	if s.Request.Model != "" {
		t.Request.Model = s.Request.Model
	}
	if s.OpenAI.Voice != "" {
		t.OpenAI.Voice = s.OpenAI.Voice
	}
	if s.OpenAI.Model != "" {
		t.OpenAI.Model = s.OpenAI.Model
	}

	if source.Metrics.Addr != "" {
		target.Metrics.Addr = source.Metrics.Addr
	}
}
