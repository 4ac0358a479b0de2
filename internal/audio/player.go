package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dooshek/speakstream/internal/logger"
	"github.com/gen2brain/malgo"
)

// Player is a Context driven by the default malgo playback device. The device's data
// callback renders the context, so the context clock follows the hardware clock.
type Player struct {
	*Context
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32
}

// OpenPlayer initializes and starts the default playback device as 32-bit float output
func OpenPlayer(sampleRate, channels, fftSize int) (*Player, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	p := &Player{
		Context: NewContext(sampleRate, channels, fftSize),
		mctx:    mctx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(p.Channels())
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputBuffer, _ []byte, frameCount uint32) {
			p.render(outputBuffer, frameCount)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	logger.Debugf("🔈 Playback device started (%d Hz, %d ch)", sampleRate, p.Channels())
	return p, nil
}

func (p *Player) render(out []byte, frameCount uint32) {
	n := int(frameCount) * p.Channels()
	if cap(p.scratch) < n {
		p.scratch = make([]float32, n)
	}
	samples := p.scratch[:n]
	p.Context.Render(samples)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
}

// Close stops the device and releases the audio context
func (p *Player) Close() error {
	p.Context.Close()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.mctx != nil {
		err := p.mctx.Uninit()
		p.mctx.Free()
		p.mctx = nil
		if err != nil {
			return fmt.Errorf("failed to release audio context: %w", err)
		}
	}
	logger.Debugf("🔈 Playback device closed")
	return nil
}
