package audio

import (
	"sync"
	"time"
)

// SourceID identifies a buffer started on a Context
type SourceID uint64

type source struct {
	buf        *Buffer
	startFrame int64
	ended      func(SourceID)
}

// Context is a software output timeline. Its clock is the number of frames rendered so far,
// so it only advances when a device (or a test) calls Render. Started buffers are mixed into
// the output from their start frame and dropped from the registry once fully rendered.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	frame      int64
	nextID     SourceID
	sources    map[SourceID]*source
	analyser   *Analyser
	mono       []float32
	closed     bool
}

// NewContext creates a timeline at sampleRate with the given output channel count. The
// analyser observes the mono downmix of everything rendered.
func NewContext(sampleRate, channels, fftSize int) *Context {
	if channels < 1 {
		channels = 1
	}
	return &Context{
		sampleRate: sampleRate,
		channels:   channels,
		sources:    make(map[SourceID]*source),
		analyser:   NewAnalyser(fftSize),
	}
}

func (c *Context) SampleRate() int { return c.sampleRate }

func (c *Context) Channels() int { return c.channels }

func (c *Context) Analyser() *Analyser { return c.analyser }

// CurrentTime is the device clock: the duration of audio rendered so far
func (c *Context) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FramesToDuration(c.frame, c.sampleRate)
}

// Start schedules buf to begin no earlier than the given clock time and returns the time it
// will actually begin. A time in the past starts at the next rendered frame. ended is called
// once, outside the context lock, after the last frame of buf has been rendered. It is not
// called for sources removed with Stop.
func (c *Context) Start(buf *Buffer, at time.Duration, ended func(SourceID)) (SourceID, time.Duration, error) {
	if buf.SampleRate != c.sampleRate {
		buf = buf.Resample(c.sampleRate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, 0, ErrClosed
	}

	start := DurationToFrames(at, c.sampleRate)
	if start < c.frame {
		start = c.frame
	}
	c.nextID++
	id := c.nextID
	c.sources[id] = &source{buf: buf, startFrame: start, ended: ended}
	return id, FramesToDuration(start, c.sampleRate), nil
}

// Stop removes a source immediately
func (c *Context) Stop(id SourceID) {
	c.mu.Lock()
	delete(c.sources, id)
	c.mu.Unlock()
}

// Active returns the number of sources that are playing or pending
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Render mixes the next len(out)/channels frames into out (interleaved) and advances the clock
func (c *Context) Render(out []float32) {
	frames := len(out) / c.channels
	for i := range out {
		out[i] = 0
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	windowStart := c.frame
	windowEnd := windowStart + int64(frames)
	var finished []*source
	var finishedIDs []SourceID

	for id, src := range c.sources {
		srcEnd := src.startFrame + int64(src.buf.Frames())
		if src.startFrame < windowEnd && srcEnd > windowStart {
			c.mix(out, src, windowStart, windowEnd)
		}
		if srcEnd <= windowEnd {
			delete(c.sources, id)
			finished = append(finished, src)
			finishedIDs = append(finishedIDs, id)
		}
	}
	c.frame = windowEnd

	if cap(c.mono) < frames {
		c.mono = make([]float32, frames)
	}
	mono := c.mono[:frames]
	for f := 0; f < frames; f++ {
		var sum float32
		for ch := 0; ch < c.channels; ch++ {
			sum += out[f*c.channels+ch]
		}
		mono[f] = sum / float32(c.channels)
	}
	c.analyser.Write(mono)
	c.mu.Unlock()

	for i, src := range finished {
		if src.ended != nil {
			src.ended(finishedIDs[i])
		}
	}
}

// mix must be called with c.mu held
func (c *Context) mix(out []float32, src *source, windowStart, windowEnd int64) {
	from := src.startFrame
	if from < windowStart {
		from = windowStart
	}
	to := src.startFrame + int64(src.buf.Frames())
	if to > windowEnd {
		to = windowEnd
	}
	srcChannels := src.buf.NumChannels()

	for f := from; f < to; f++ {
		si := int(f - src.startFrame)
		oi := int(f-windowStart) * c.channels
		if c.channels == 1 {
			var sum float32
			for _, chData := range src.buf.Channels {
				sum += chData[si]
			}
			out[oi] += sum / float32(srcChannels)
			continue
		}
		for ch := 0; ch < c.channels; ch++ {
			sc := ch
			if sc >= srcChannels {
				sc = srcChannels - 1
			}
			out[oi+ch] += src.buf.Channels[sc][si]
		}
	}
}

// Close drops every source and rejects further Start calls
func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	c.sources = make(map[SourceID]*source)
	c.mu.Unlock()
	c.analyser.Reset()
	return nil
}
