package logger

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel("info")

	SetLevel("info")
	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("Expected debug output to be filtered at info level, got %q", buf.String())
	}

	SetLevel("debug")
	if GetCurrentLevel() != LevelDebug {
		t.Errorf("Expected level DEBUG, got %s", GetCurrentLevel())
	}
	Debugf("visible %d", 2)
	if !strings.Contains(buf.String(), "visible 2") {
		t.Errorf("Expected debug output at debug level, got %q", buf.String())
	}
}

func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Error("dial failed", errors.New("connection refused"))
	out := buf.String()
	if !strings.Contains(out, "dial failed") || !strings.Contains(out, "connection refused") {
		t.Errorf("Expected message and cause in output, got %q", out)
	}
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	l := With("stream", "session", "abc")
	l.Info().Msg("open")
	out := buf.String()
	if !strings.Contains(out, "stream") || !strings.Contains(out, "abc") {
		t.Errorf("Expected component and session fields, got %q", out)
	}
}
