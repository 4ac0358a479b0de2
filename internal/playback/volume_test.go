package playback

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dooshek/speakstream/internal/audio"
)

type levelRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (r *levelRecorder) record(v float64) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *levelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func (r *levelRecorder) last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return -1
	}
	return r.values[len(r.values)-1]
}

func (r *levelRecorder) all() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func renderTone(out *audio.Context, frames int) {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*float64(i)*440/float64(out.SampleRate())))
	}
	out.Start(audio.NewMonoBuffer(out.SampleRate(), samples), out.CurrentTime(), nil)
	out.Render(make([]float32, frames*out.Channels()))
}

func TestVolumeMonitorArmsOnSecondOfTwo(t *testing.T) {
	out := audio.NewContext(24000, 1, 256)

	m := NewVolumeMonitor(time.Millisecond)
	defer m.Stop()
	var rec levelRecorder

	m.SetCallback(rec.record)
	if m.Running() {
		t.Fatal("Monitor must not run without an analyser")
	}
	m.Attach(out.Analyser())
	if !m.Running() {
		t.Fatal("Expected monitor to start once both are present")
	}
	waitFor(t, "volume samples", func() bool { return rec.count() >= 3 })

	m2 := NewVolumeMonitor(time.Millisecond)
	defer m2.Stop()
	m2.Attach(out.Analyser())
	if m2.Running() {
		t.Fatal("Monitor must not run without a callback")
	}
	m2.SetCallback(func(float64) {})
	if !m2.Running() {
		t.Fatal("Expected monitor to start when the callback arrives second")
	}
}

func TestVolumeMonitorStartsOncePerDevice(t *testing.T) {
	out := audio.NewContext(24000, 1, 256)
	m := NewVolumeMonitor(time.Millisecond)
	defer m.Stop()

	m.Attach(out.Analyser())
	m.SetCallback(func(float64) {})
	m.mu.Lock()
	first := m.loop
	m.mu.Unlock()

	m.SetCallback(func(float64) {})
	m.Attach(out.Analyser())
	m.mu.Lock()
	second := m.loop
	m.mu.Unlock()

	if first != second {
		t.Error("Expected the running loop to be reused")
	}
}

func TestVolumeMonitorBoundedAndSilent(t *testing.T) {
	out := audio.NewContext(24000, 1, 256)
	m := NewVolumeMonitor(time.Millisecond)
	defer m.Stop()
	var rec levelRecorder
	m.Attach(out.Analyser())
	m.SetCallback(rec.record)

	waitFor(t, "silent sample", func() bool { return rec.count() > 0 })
	if v := rec.last(); v != 0 {
		t.Errorf("Expected 0 with nothing playing, got %v", v)
	}

	renderTone(out, 512)
	waitFor(t, "non-zero sample", func() bool { return rec.last() > 0 })

	for _, v := range rec.all() {
		if v < 0 || v > 255.0/VolumeReference {
			t.Fatalf("Volume %v outside [0, %v]", v, 255.0/VolumeReference)
		}
	}
}

func TestVolumeMonitorStop(t *testing.T) {
	out := audio.NewContext(24000, 1, 256)
	m := NewVolumeMonitor(time.Millisecond)
	var rec levelRecorder
	m.Attach(out.Analyser())
	m.SetCallback(rec.record)
	waitFor(t, "samples", func() bool { return rec.count() > 0 })

	m.Stop()
	if m.Running() {
		t.Error("Expected monitor to stop")
	}
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	if rec.count() != n {
		t.Errorf("Expected no samples after Stop, got %d more", rec.count()-n)
	}
	if m.Level() != 0 {
		t.Error("Expected zero level with no analyser attached")
	}

	m.Attach(audio.NewContext(24000, 1, 256).Analyser())
	if !m.Running() {
		t.Error("Expected a new device to restart the monitor")
	}
	m.Stop()
}

func TestVolumeMonitorStopFromCallback(t *testing.T) {
	out := audio.NewContext(24000, 1, 256)
	m := NewVolumeMonitor(time.Millisecond)
	returned := make(chan struct{})
	var once sync.Once
	m.Attach(out.Analyser())
	m.SetCallback(func(float64) {
		once.Do(func() {
			m.Stop()
			close(returned)
		})
	})

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from the callback deadlocked")
	}
	if m.Running() {
		t.Error("Expected monitor to stop")
	}
}
