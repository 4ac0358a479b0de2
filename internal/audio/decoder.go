package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

func init() {
	ffmpeg.LogCompiledCommand = false
}

// ContainerDecoder turns compressed container bytes into float samples at the requested
// rate and channel count
type ContainerDecoder interface {
	DecodeContainer(ctx context.Context, data []byte, sampleRate, channels int) (*Buffer, error)
}

// Decoder converts backend payloads into buffers at the output's sample rate
type Decoder struct {
	sampleRate int
	channels   int
	container  ContainerDecoder
}

// NewDecoder creates a decoder targeting the given output format. container may be nil, in
// which case container payloads are decoded with ffmpeg.
func NewDecoder(sampleRate, channels int, container ContainerDecoder) *Decoder {
	if container == nil {
		container = FFmpegDecoder{}
	}
	return &Decoder{sampleRate: sampleRate, channels: channels, container: container}
}

// Decode converts p into a buffer. Every failure wraps ErrDecode.
func (d *Decoder) Decode(ctx context.Context, p Payload) (*Buffer, error) {
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrDecode, p.Format)
	}

	switch p.Format {
	case FormatPCM16:
		rate := p.SampleRate
		if rate == 0 {
			rate = PCMSampleRate
		}
		buf, err := DecodePCM16(p.Data, rate)
		if err != nil {
			return nil, err
		}
		return buf.Resample(d.sampleRate), nil

	case FormatContainer:
		buf, err := d.container.DecodeContainer(ctx, p.Data, d.sampleRate, d.channels)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if buf.Frames() == 0 {
			return nil, fmt.Errorf("%w: container produced no samples", ErrDecode)
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: unsupported payload format %d", ErrDecode, p.Format)
	}
}

// DecodePCM16 interprets data as signed 16-bit little-endian mono samples. A trailing odd
// byte is ignored.
func DecodePCM16(data []byte, sampleRate int) (*Buffer, error) {
	n := len(data) / 2
	if n == 0 {
		return nil, fmt.Errorf("%w: pcm16 payload shorter than one sample", ErrDecode)
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[2*i:]))
		samples[i] = float32(s) / 32768.0
	}
	return NewMonoBuffer(sampleRate, samples), nil
}

// FFmpegDecoder pipes container bytes through ffmpeg and reads back interleaved f32le
type FFmpegDecoder struct{}

func (FFmpegDecoder) DecodeContainer(ctx context.Context, data []byte, sampleRate, channels int) (*Buffer, error) {
	var stdout, stderr bytes.Buffer

	cmd := ffmpeg.Input("pipe:0").
		Output("pipe:1", ffmpeg.KwArgs{
			"f":        "f32le",
			"acodec":   "pcm_f32le",
			"ac":       channels,
			"ar":       sampleRate,
			"loglevel": "error",
		}).
		WithInput(bytes.NewReader(data)).
		WithOutput(&stdout, &stderr).
		Compile()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg failed: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	}

	return deinterleaveF32(stdout.Bytes(), sampleRate, channels), nil
}

func deinterleaveF32(raw []byte, sampleRate, channels int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	frames := len(raw) / (4 * channels)
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			off := (f*channels + ch) * 4
			buf.Channels[ch][f] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	return buf
}
