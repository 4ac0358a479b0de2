package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
)

// VolumeReference divides the mean byte magnitude. A full-scale spectrum reads 255/128.
const VolumeReference = 128.0

// DefaultFrameInterval is one display frame at ~60Hz
const DefaultFrameInterval = 16 * time.Millisecond

// VolumeMonitor reports the mean spectrum magnitude of the output once per frame. It starts
// when it has both an analyser and a callback, whichever arrives second, and runs until Stop.
// The callback may call Stop (directly or through the controller).
type VolumeMonitor struct {
	mu       sync.Mutex
	interval time.Duration
	analyser *audio.Analyser
	callback func(float64)
	loop     *monitorLoop
}

type monitorLoop struct {
	cancel     context.CancelFunc
	done       chan struct{}
	delivering atomic.Bool // inside the callback
}

func NewVolumeMonitor(interval time.Duration) *VolumeMonitor {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &VolumeMonitor{interval: interval}
}

// SetCallback registers the receiver of volume samples. A nil fn pauses delivery.
func (m *VolumeMonitor) SetCallback(fn func(float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
	m.startLocked()
}

// Attach hands the monitor the analyser of a freshly acquired device
func (m *VolumeMonitor) Attach(a *audio.Analyser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analyser == a {
		return
	}
	m.analyser = a
	m.startLocked()
}

func (m *VolumeMonitor) startLocked() {
	if m.loop != nil || m.analyser == nil || m.callback == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loop = &monitorLoop{cancel: cancel, done: make(chan struct{})}
	go m.run(ctx, m.analyser, m.loop)
	logger.Debugf("Volume monitor started (%v per frame)", m.interval)
}

func (m *VolumeMonitor) run(ctx context.Context, a *audio.Analyser, loop *monitorLoop) {
	defer close(loop.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	bins := make([]uint8, a.FrequencyBinCount())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// a tick that raced with Stop must not deliver
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		fn := m.callback
		m.mu.Unlock()
		if fn != nil {
			loop.delivering.Store(true)
			fn(level(a, bins))
			loop.delivering.Store(false)
		}
	}
}

// Stop halts the loop and detaches the analyser; it returns once the loop has exited.
// While the callback is running Stop only cancels, so the callback itself may stop the
// monitor; the loop delivers nothing after that callback returns.
// A later Attach starts a new loop for the new device.
func (m *VolumeMonitor) Stop() {
	m.mu.Lock()
	loop := m.loop
	m.loop = nil
	m.analyser = nil
	m.mu.Unlock()

	if loop == nil {
		return
	}
	loop.cancel()
	if !loop.delivering.Load() {
		<-loop.done
	}
	logger.Debugf("Volume monitor stopped")
}

// Running reports whether the sampling loop is active
func (m *VolumeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loop != nil
}

// Level computes one sample from the attached analyser, 0 when none is attached
func (m *VolumeMonitor) Level() float64 {
	m.mu.Lock()
	a := m.analyser
	m.mu.Unlock()
	if a == nil {
		return 0
	}
	return level(a, make([]uint8, a.FrequencyBinCount()))
}

func level(a *audio.Analyser, bins []uint8) float64 {
	n := a.ByteFrequencyData(bins)
	if n == 0 {
		return 0
	}
	var sum int
	for _, b := range bins[:n] {
		sum += int(b)
	}
	return float64(sum) / float64(n) / VolumeReference
}
