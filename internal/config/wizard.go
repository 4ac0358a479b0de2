package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dooshek/speakstream/internal/fileops"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/types"
	"github.com/fatih/color"
)

var backendChoices = []struct {
	kind  types.BackendKind
	label string
}{
	{types.BackendStream, "ElevenLabs stream-input websocket (lowest latency)"},
	{types.BackendRealtime, "OpenAI Realtime websocket"},
	{types.BackendRequest, "Gemini TTS, one request per sentence"},
	{types.BackendOpenAI, "OpenAI speech, one request per sentence"},
}

// RunWizard asks for a backend and its API key on the terminal and saves the result
func RunWizard() error {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return fmt.Errorf("failed to initialize file operations: %w", err)
	}
	if err := fileOps.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	return RunWizardWith(os.Stdin, os.Stdout, fileOps)
}

// RunWizardWith drives the wizard over arbitrary streams
func RunWizardWith(in io.Reader, out io.Writer, fileOps fileops.FileOps) error {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	reader := bufio.NewReader(in)

	bold.Fprintln(out, "\n🔊 Welcome to the speakstream configuration wizard!")
	cyan.Fprintln(out, "\nChoose a synthesis backend:")
	for i, c := range backendChoices {
		fmt.Fprintf(out, "  %d) %s\n", i+1, c.label)
	}
	fmt.Fprint(out, "\nBackend [1]: ")

	answer, err := readLine(reader)
	if err != nil {
		return err
	}
	choice := 0
	if answer != "" {
		if _, err := fmt.Sscanf(answer, "%d", &choice); err != nil || choice < 1 || choice > len(backendChoices) {
			return fmt.Errorf("invalid backend choice %q", answer)
		}
		choice--
	}
	kind := backendChoices[choice].kind

	fmt.Fprint(out, "API key: ")
	key, err := readLine(reader)
	if err != nil {
		return err
	}
	if key == "" {
		logger.Warn("No API key entered, set it later in the config file or environment")
	}

	fmt.Fprint(out, "Voice (empty for default): ")
	voice, err := readLine(reader)
	if err != nil {
		return err
	}

	config := &types.Config{Speaker: types.SpeakerConfig{Backend: kind}}
	switch kind {
	case types.BackendStream:
		config.Speaker.Keys.ElevenLabsKey = key
		config.Speaker.Stream.VoiceID = voice
	case types.BackendRealtime:
		config.Speaker.Keys.OpenAIKey = key
		config.Speaker.Realtime.Voice = voice
	case types.BackendRequest:
		config.Speaker.Keys.GeminiKey = key
		config.Speaker.Request.Voice = voice
	case types.BackendOpenAI:
		config.Speaker.Keys.OpenAIKey = key
		config.Speaker.OpenAI.Voice = voice
	}

	if err := Save(fileOps, config); err != nil {
		logger.Error("Failed to save configuration", err)
		return err
	}

	green.Fprintf(out, "\n✅ Saved %s backend configuration to %s\n", kind, fileOps.GetConfigDir())
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	// Strip control characters pasted along with keys
	line = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, line)
	return strings.TrimSpace(line), nil
}
