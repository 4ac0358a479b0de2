package tts

import (
	"errors"
	"net/http"
)

var (
	// ErrConnection covers handshake and transport failures of a streaming session
	ErrConnection = errors.New("tts connection failed")

	// ErrQuotaExceeded means the backend rate limited the request; the chunk is dropped
	ErrQuotaExceeded = errors.New("tts quota exceeded")

	// ErrSynthesis covers every other remote failure
	ErrSynthesis = errors.New("tts synthesis failed")
)

// statusError maps an HTTP status (and an optional RPC-style status string) to a sentinel
func statusError(code int, status string) error {
	if code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED" {
		return ErrQuotaExceeded
	}
	return ErrSynthesis
}
