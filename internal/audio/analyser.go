package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	analyserMinDecibels = -100.0
	analyserMaxDecibels = -30.0
	defaultFFTSize      = 256
)

// Analyser keeps the most recent fftSize output samples and produces byte-scaled
// frequency snapshots: 0 for anything at or below -100 dBFS, 255 at -30 dBFS and above.
type Analyser struct {
	mu     sync.Mutex
	size   int
	ring   []float64
	pos    int
	window []float64
	fft    *fourier.FFT
	seq    []float64
	coeff  []complex128
}

// NewAnalyser creates an analyser over fftSize samples. fftSize must be a power of two,
// anything else falls back to 256.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		fftSize = defaultFFTSize
	}
	a := &Analyser{
		size:   fftSize,
		ring:   make([]float64, fftSize),
		window: make([]float64, fftSize),
		fft:    fourier.NewFFT(fftSize),
		seq:    make([]float64, fftSize),
	}
	// Blackman window
	const alpha = 0.16
	a0, a1, a2 := 0.5*(1-alpha), 0.5, 0.5*alpha
	for i := range a.window {
		x := float64(i) / float64(fftSize)
		a.window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return a
}

// FrequencyBinCount is half the FFT size
func (a *Analyser) FrequencyBinCount() int {
	return a.size / 2
}

// Write appends rendered samples to the analysis window
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.size
	}
	a.mu.Unlock()
}

// Reset fills the window with silence
func (a *Analyser) Reset() {
	a.mu.Lock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	a.pos = 0
	a.mu.Unlock()
}

// ByteFrequencyData fills dst (up to FrequencyBinCount entries) with the current spectrum
// and returns the number of bins written.
func (a *Analyser) ByteFrequencyData(dst []uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	silent := true
	for i := 0; i < a.size; i++ {
		v := a.ring[(a.pos+i)%a.size]
		if v != 0 {
			silent = false
		}
		a.seq[i] = v * a.window[i]
	}

	n := a.size / 2
	if len(dst) < n {
		n = len(dst)
	}
	if silent {
		for i := 0; i < n; i++ {
			dst[i] = 0
		}
		return n
	}

	a.coeff = a.fft.Coefficients(a.coeff, a.seq)
	scale := 255.0 / (analyserMaxDecibels - analyserMinDecibels)
	for i := 0; i < n; i++ {
		mag := cmplxAbs(a.coeff[i]) / float64(a.size)
		db := analyserMinDecibels
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := (db - analyserMinDecibels) * scale
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[i] = uint8(v)
	}
	return n
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
