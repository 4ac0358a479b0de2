package playback

import (
	"sync"
	"time"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/metrics"
)

// Device is an output timeline that buffers can be started on. *audio.Context and
// *audio.Player implement it.
type Device interface {
	CurrentTime() time.Duration
	SampleRate() int
	Channels() int
	// Start begins buf no earlier than at and returns the start the device settled on
	Start(buf *audio.Buffer, at time.Duration, ended func(audio.SourceID)) (audio.SourceID, time.Duration, error)
	Stop(id audio.SourceID)
	Analyser() *audio.Analyser
	Close() error
}

// GaplessScheduler places buffers back to back on a device timeline. Buffers that arrive
// faster than real time are queued after each other; a late buffer starts now.
type GaplessScheduler struct {
	mu        sync.Mutex
	out       Device
	nextStart time.Duration
	live      map[audio.SourceID]struct{}
}

func NewGaplessScheduler(out Device) *GaplessScheduler {
	return &GaplessScheduler{out: out, live: make(map[audio.SourceID]struct{})}
}

// Schedule starts buf at max(nextStart, now) and returns the start time. The cursor
// advances from the start the device reports, which is later than requested when the
// clock moved between reading it and starting the source.
func (s *GaplessScheduler) Schedule(buf *audio.Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.out.CurrentTime()
	if s.nextStart > at {
		at = s.nextStart
	}

	id, start, err := s.out.Start(buf, at, s.ended)
	if err != nil {
		return 0, err
	}
	s.live[id] = struct{}{}
	s.nextStart = start + buf.Duration()

	metrics.RecordScheduled(buf.Duration())
	metrics.SetLiveSources(len(s.live))
	return start, nil
}

// ended runs on the device's completion notification. It may block until a Schedule that
// is still registering id has finished.
func (s *GaplessScheduler) ended(id audio.SourceID) {
	s.mu.Lock()
	delete(s.live, id)
	n := len(s.live)
	s.mu.Unlock()
	metrics.SetLiveSources(n)
}

// CancelAll stops every live source and rewinds the timeline to zero
func (s *GaplessScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.live {
		s.out.Stop(id)
	}
	clear(s.live)
	s.nextStart = 0
	metrics.SetLiveSources(0)
}

// Live returns the number of sources playing or waiting to play
func (s *GaplessScheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// NextStart returns the timeline cursor: the end of the last scheduled buffer
func (s *GaplessScheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
