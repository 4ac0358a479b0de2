package tts

import (
	"context"

	"github.com/dooshek/speakstream/internal/audio"
)

// Sink receives payloads in the order the backend produced them
type Sink func(audio.Payload)

// Backend turns a text chunk into audio payloads. Request/response backends call sink before
// Synthesize returns; streaming backends return once the chunk is on the wire and call sink
// from their reader as audio arrives. Synthesize never retries or re-queues a chunk.
type Backend interface {
	Synthesize(ctx context.Context, chunk string, sink Sink) error

	// Close releases any connection. The backend stays usable and reconnects on demand.
	Close() error

	// Name returns the name of the backend
	Name() string
}

// Interrupter is implemented by streaming backends, whose audio for chunks already sent can
// still arrive after playback stopped. After Interrupt none of that audio reaches a sink,
// not even one passed to a later Synthesize.
type Interrupter interface {
	Interrupt()
}
