package audio

import (
	"errors"
	"time"
)

var (
	// ErrDecode marks a payload that could not be turned into samples
	ErrDecode = errors.New("audio decode failed")

	// ErrClosed is returned when scheduling onto an output that has been torn down
	ErrClosed = errors.New("audio output closed")
)

// Format tags how a payload's bytes are encoded
type Format int

const (
	// FormatContainer is opaque compressed container bytes (mp3, ogg, ...)
	FormatContainer Format = iota
	// FormatPCM16 is signed 16-bit little-endian mono PCM at Payload.SampleRate
	FormatPCM16
)

func (f Format) String() string {
	switch f {
	case FormatContainer:
		return "container"
	case FormatPCM16:
		return "pcm16"
	default:
		return "unknown"
	}
}

// PCMSampleRate is the rate every PCM16 backend in this module produces
const PCMSampleRate = 24000

// Payload is one unit of backend output, consumed immediately by the decoder
type Payload struct {
	Format     Format
	Data       []byte
	SampleRate int // only meaningful for FormatPCM16
}

// Buffer holds decoded float samples, one slice per channel, all the same length
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewMonoBuffer wraps samples as a single-channel buffer
func NewMonoBuffer(sampleRate int, samples []float32) *Buffer {
	return &Buffer{SampleRate: sampleRate, Channels: [][]float32{samples}}
}

// Frames returns the number of sample frames
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// NumChannels returns the channel count
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Duration is the playback length at the buffer's own sample rate
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(int64(b.Frames()), b.SampleRate)
}

// Resample converts the buffer to rate with linear interpolation
func (b *Buffer) Resample(rate int) *Buffer {
	if rate == b.SampleRate || b.Frames() == 0 {
		return b
	}
	out := &Buffer{SampleRate: rate, Channels: make([][]float32, len(b.Channels))}
	ratio := float64(rate) / float64(b.SampleRate)
	n := int(float64(b.Frames()) * ratio)
	for ch, in := range b.Channels {
		dst := make([]float32, n)
		for i := range dst {
			pos := float64(i) / ratio
			i0 := int(pos)
			i1 := i0 + 1
			if i1 >= len(in) {
				i1 = len(in) - 1
			}
			frac := float32(pos - float64(i0))
			dst[i] = in[i0]*(1-frac) + in[i1]*frac
		}
		out.Channels[ch] = dst
	}
	return out
}

// FramesToDuration converts a frame count at rate to a duration
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d to the nearest frame at rate
func DurationToFrames(d time.Duration, rate int) int64 {
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
