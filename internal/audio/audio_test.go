package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestDecodePCM16(t *testing.T) {
	buf, err := DecodePCM16(append(pcm16(0, 16384, -32768, 32767), 0x7f), 24000)
	if err != nil {
		t.Fatalf("DecodePCM16() failed: %v", err)
	}
	if buf.NumChannels() != 1 {
		t.Fatalf("Expected mono buffer, got %d channels", buf.NumChannels())
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if buf.Frames() != len(want) {
		t.Fatalf("Expected %d frames (odd byte ignored), got %d", len(want), buf.Frames())
	}
	for i, w := range want {
		if buf.Channels[0][i] != w {
			t.Errorf("Sample %d: expected %v, got %v", i, w, buf.Channels[0][i])
		}
	}
}

func TestDecodePCM16TooShort(t *testing.T) {
	if _, err := DecodePCM16([]byte{1}, 24000); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

func TestBufferDuration(t *testing.T) {
	buf := NewMonoBuffer(24000, make([]float32, 12000))
	if buf.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", buf.Duration())
	}
}

func TestResample(t *testing.T) {
	buf := NewMonoBuffer(24000, []float32{0, 1, 0, -1})
	up := buf.Resample(48000)
	if up.SampleRate != 48000 || up.Frames() != 8 {
		t.Fatalf("Expected 8 frames at 48000, got %d at %d", up.Frames(), up.SampleRate)
	}
	if up.Channels[0][1] != 0.5 {
		t.Errorf("Expected interpolated 0.5, got %v", up.Channels[0][1])
	}
	if same := buf.Resample(24000); same != buf {
		t.Error("Expected same-rate resample to return the receiver")
	}
}

type stubContainer struct {
	buf *Buffer
	err error
}

func (s stubContainer) DecodeContainer(context.Context, []byte, int, int) (*Buffer, error) {
	return s.buf, s.err
}

func TestDecoderFormats(t *testing.T) {
	d := NewDecoder(24000, 1, stubContainer{buf: NewMonoBuffer(24000, []float32{0.1, 0.2})})

	buf, err := d.Decode(context.Background(), Payload{Format: FormatPCM16, Data: pcm16(1, 2, 3)})
	if err != nil || buf.Frames() != 3 {
		t.Fatalf("Expected 3 PCM frames, got %v / %v", buf, err)
	}

	buf, err = d.Decode(context.Background(), Payload{Format: FormatContainer, Data: []byte("ID3")})
	if err != nil || buf.Frames() != 2 {
		t.Fatalf("Expected 2 container frames, got %v / %v", buf, err)
	}

	if _, err := d.Decode(context.Background(), Payload{Format: FormatPCM16}); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for empty payload, got %v", err)
	}
	if _, err := d.Decode(context.Background(), Payload{Format: Format(42), Data: []byte{1, 2}}); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for unknown format, got %v", err)
	}
}

func TestDecoderWrapsContainerFailure(t *testing.T) {
	d := NewDecoder(24000, 1, stubContainer{err: errors.New("bad frame header")})
	_, err := d.Decode(context.Background(), Payload{Format: FormatContainer, Data: []byte{0xff}})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

func TestDeinterleaveF32(t *testing.T) {
	raw := make([]byte, 16)
	for i, v := range []float32{0.25, -0.25, 0.5, -0.5} {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	buf := deinterleaveF32(raw, 48000, 2)
	if buf.Frames() != 2 || buf.NumChannels() != 2 {
		t.Fatalf("Expected 2x2 buffer, got %dx%d", buf.Frames(), buf.NumChannels())
	}
	if buf.Channels[0][1] != 0.5 || buf.Channels[1][1] != -0.5 {
		t.Errorf("Unexpected deinterleave result %v", buf.Channels)
	}
}

func TestContextRenderAndEnd(t *testing.T) {
	c := NewContext(1000, 1, 256)
	ended := make(chan SourceID, 1)

	id, at, err := c.Start(NewMonoBuffer(1000, []float32{1, 1, 1, 1}), 2*time.Millisecond, func(id SourceID) { ended <- id })
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if at != 2*time.Millisecond {
		t.Errorf("Expected start at 2ms, got %v", at)
	}

	out := make([]float32, 4)
	c.Render(out)
	if out[0] != 0 || out[1] != 0 || out[2] != 1 || out[3] != 1 {
		t.Errorf("Expected source to begin at frame 2, got %v", out)
	}
	if c.Active() != 1 {
		t.Errorf("Expected source to remain active, got %d", c.Active())
	}
	if c.CurrentTime() != 4*time.Millisecond {
		t.Errorf("Expected clock at 4ms, got %v", c.CurrentTime())
	}

	c.Render(out)
	if out[0] != 1 || out[1] != 1 || out[2] != 0 {
		t.Errorf("Expected tail of source, got %v", out)
	}
	select {
	case got := <-ended:
		if got != id {
			t.Errorf("Expected ended id %d, got %d", id, got)
		}
	default:
		t.Error("Expected ended notification after last frame")
	}
	if c.Active() != 0 {
		t.Errorf("Expected no active sources, got %d", c.Active())
	}
}

func TestContextStopAndClose(t *testing.T) {
	c := NewContext(1000, 2, 256)
	id, _, _ := c.Start(NewMonoBuffer(1000, []float32{1, 1}), 0, func(SourceID) {
		t.Error("Stopped source must not report ended")
	})
	c.Stop(id)

	out := make([]float32, 4)
	c.Render(out)
	for _, v := range out {
		if v != 0 {
			t.Fatalf("Expected silence after Stop, got %v", out)
		}
	}

	c.Close()
	if _, _, err := c.Start(NewMonoBuffer(1000, []float32{1}), 0, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestContextStartClampsToClock(t *testing.T) {
	c := NewContext(1000, 1, 256)
	c.Render(make([]float32, 3))

	_, at, err := c.Start(NewMonoBuffer(1000, []float32{1}), time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if at != 3*time.Millisecond {
		t.Errorf("Expected a past start to be reported as now (3ms), got %v", at)
	}
}

func TestContextUpmixesMono(t *testing.T) {
	c := NewContext(1000, 2, 256)
	c.Start(NewMonoBuffer(1000, []float32{0.5}), 0, nil)
	out := make([]float32, 2)
	c.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("Expected mono source on both channels, got %v", out)
	}
}

func TestAnalyserSilenceAndTone(t *testing.T) {
	a := NewAnalyser(256)
	bins := make([]uint8, a.FrequencyBinCount())

	a.ByteFrequencyData(bins)
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("Expected silent spectrum, bin %d = %d", i, b)
		}
	}

	tone := make([]float32, 256)
	for i := range tone {
		tone[i] = float32(0.8 * math.Sin(2*math.Pi*float64(i)*16/256))
	}
	a.Write(tone)
	a.ByteFrequencyData(bins)
	if bins[16] < 200 {
		t.Errorf("Expected strong energy at bin 16, got %d", bins[16])
	}

	a.Reset()
	a.ByteFrequencyData(bins)
	if bins[16] != 0 {
		t.Errorf("Expected silence after Reset, got %d", bins[16])
	}
}

func TestNewAnalyserRejectsBadSize(t *testing.T) {
	if NewAnalyser(300).FrequencyBinCount() != 128 {
		t.Error("Expected non power-of-two size to fall back to 256")
	}
}
