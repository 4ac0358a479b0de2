package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dooshek/speakstream/internal/audio"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/metrics"
	"github.com/dooshek/speakstream/internal/tts"
	"github.com/dooshek/speakstream/internal/types"
)

// State of the controller
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// DeviceFactory opens the output device on first use
type DeviceFactory func(cfg types.PlaybackConfig) (Device, error)

// OpenPlayer is the default DeviceFactory: the system playback device through malgo
func OpenPlayer(cfg types.PlaybackConfig) (Device, error) {
	p, err := audio.OpenPlayer(cfg.SampleRate, cfg.Channels, cfg.FFTSize)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Option customizes a Controller
type Option func(*Controller)

// WithDeviceFactory replaces the system playback device
func WithDeviceFactory(f DeviceFactory) Option {
	return func(c *Controller) { c.devices = f }
}

// WithContainerDecoder replaces the ffmpeg container decoder
func WithContainerDecoder(d audio.ContainerDecoder) Option {
	return func(c *Controller) { c.container = d }
}

var errStale = errors.New("playback generation superseded")

type chunkJob struct {
	text string
	gen  uint64
}

type payloadJob struct {
	payload audio.Payload
	gen     uint64
}

// Controller wires text chunking, synthesis, decoding and gapless playback together.
// Speak and Flush never block on the network or the decoder: chunks are queued for a
// synthesis worker and payloads for a playback worker, each processing in order.
type Controller struct {
	cfg       types.PlaybackConfig
	backend   tts.Backend
	chunker   *tts.TextChunker
	monitor   *VolumeMonitor
	devices   DeviceFactory
	container audio.ContainerDecoder

	chunks   chan chunkJob
	payloads chan payloadJob
	pending  atomic.Int64

	// mu guards the device and everything built on it, and orders scheduling against stops
	mu        sync.Mutex
	gen       atomic.Uint64
	device    Device
	decoder   *audio.Decoder
	scheduler *GaplessScheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewController starts the worker goroutines. The output device is opened lazily.
func NewController(backend tts.Backend, cfg types.PlaybackConfig, opts ...Option) *Controller {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	c := &Controller{
		cfg:      cfg,
		backend:  backend,
		chunker:  tts.NewTextChunker(cfg.ChunkThreshold),
		monitor:  NewVolumeMonitor(cfg.FrameInterval()),
		devices:  OpenPlayer,
		chunks:   make(chan chunkJob, queueSize),
		payloads: make(chan payloadJob, queueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(2)
	go c.synthesisWorker()
	go c.playbackWorker()
	return c
}

// Speak appends text and sends a chunk when a trigger fires
func (c *Controller) Speak(text string, isFinal bool) {
	if chunk, ok := c.chunker.Submit(text, isFinal); ok {
		c.enqueueChunk(chunk)
	}
}

// Flush sends whatever text is buffered
func (c *Controller) Flush() {
	if chunk, ok := c.chunker.Flush(); ok {
		c.enqueueChunk(chunk)
	}
}

// SetVolumeCallback registers the volume receiver. It starts receiving once a device is open.
func (c *Controller) SetVolumeCallback(fn func(float64)) {
	c.monitor.SetCallback(fn)
}

// Volume returns the current output level
func (c *Controller) Volume() float64 {
	return c.monitor.Level()
}

// State is Active while text, chunks or audio are pending or playing
func (c *Controller) State() State {
	if c.pending.Load() > 0 || c.chunker.Pending() > 0 {
		return StateActive
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil && c.scheduler.Live() > 0 {
		return StateActive
	}
	return StateIdle
}

// Live returns the number of scheduled sources not yet finished
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return 0
	}
	return c.scheduler.Live()
}

// NextStart returns the playback timeline cursor
func (c *Controller) NextStart() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return 0
	}
	return c.scheduler.NextStart()
}

// StopAudio silences playback and discards pending text and queued work. A streaming
// backend is interrupted so audio for chunks already sent is not played; its session is
// kept for the next chunk where the protocol allows it.
func (c *Controller) StopAudio() {
	c.mu.Lock()
	c.gen.Add(1)
	c.chunker.Reset()
	c.drain()
	if c.scheduler != nil {
		c.scheduler.CancelAll()
	}
	if c.device != nil {
		c.device.Analyser().Reset()
	}
	c.mu.Unlock()

	if in, ok := c.backend.(tts.Interrupter); ok {
		in.Interrupt()
	}
	logger.Debugf("🔇 Audio stopped")
}

// Stop is StopAudio plus releasing the volume monitor, the backend connection and the
// device. The controller stays usable and reacquires them on demand.
func (c *Controller) Stop() {
	c.StopAudio()
	c.monitor.Stop()

	if err := c.backend.Close(); err != nil {
		logger.Warnf("Failed to close %s backend: %v", c.backend.Name(), err)
	}

	c.releaseDevice()
	logger.Debugf("⏹️ Playback stopped")
}

// Close stops everything and ends the worker goroutines
func (c *Controller) Close() {
	c.once.Do(func() {
		c.Stop()
		c.cancel()
		c.wg.Wait()
		// a chunk spoken while closing may have reopened the device
		c.monitor.Stop()
		c.releaseDevice()
	})
}

func (c *Controller) releaseDevice() {
	c.mu.Lock()
	device := c.device
	c.device, c.decoder, c.scheduler = nil, nil, nil
	c.mu.Unlock()

	if device != nil {
		if err := device.Close(); err != nil {
			logger.Warnf("Failed to close output device: %v", err)
		}
	}
}

func (c *Controller) enqueueChunk(text string) {
	job := chunkJob{text: text, gen: c.gen.Load()}
	c.pending.Add(1)
	select {
	case c.chunks <- job:
	default:
		c.pending.Add(-1)
		metrics.RecordDrop(metrics.DropQueueFull)
		logger.Warnf("Chunk queue full, dropping %d chars", len(text))
	}
}

func (c *Controller) enqueuePayload(p audio.Payload, gen uint64) {
	metrics.RecordPayload(p.Format.String(), len(p.Data))
	if gen != c.gen.Load() {
		metrics.RecordDrop(metrics.DropStale)
		return
	}
	c.pending.Add(1)
	select {
	case c.payloads <- payloadJob{payload: p, gen: gen}:
	default:
		c.pending.Add(-1)
		metrics.RecordDrop(metrics.DropQueueFull)
		logger.Warnf("Audio queue full, dropping %d byte payload", len(p.Data))
	}
}

// drain empties both queues; caller holds c.mu
func (c *Controller) drain() {
	for {
		select {
		case <-c.chunks:
			c.pending.Add(-1)
		case <-c.payloads:
			c.pending.Add(-1)
		default:
			return
		}
	}
}

func (c *Controller) synthesisWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.chunks:
			c.synthesize(job)
			c.pending.Add(-1)
		}
	}
}

func (c *Controller) synthesize(job chunkJob) {
	if job.gen != c.gen.Load() {
		metrics.RecordDrop(metrics.DropStale)
		return
	}

	name := c.backend.Name()
	metrics.RecordChunk(name)
	logger.Debugf("🗣️ Synthesizing %d chars with %s", len(job.text), name)

	started := time.Now()
	err := c.backend.Synthesize(c.ctx, job.text, func(p audio.Payload) {
		c.enqueuePayload(p, job.gen)
	})
	metrics.RecordSynthesis(name, time.Since(started))

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, tts.ErrQuotaExceeded):
		metrics.RecordDrop(metrics.DropQuota)
		logger.Warnf("TTS quota exceeded, dropping chunk: %v", err)
	case errors.Is(err, tts.ErrConnection):
		metrics.RecordDrop(metrics.DropConnection)
		logger.Error("TTS connection failed, dropping chunk", err)
	default:
		metrics.RecordDrop(metrics.DropSynthesis)
		logger.Error("TTS synthesis failed, dropping chunk", err)
	}
}

func (c *Controller) playbackWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.payloads:
			c.play(job)
			c.pending.Add(-1)
		}
	}
}

func (c *Controller) play(job payloadJob) {
	if job.gen != c.gen.Load() {
		metrics.RecordDrop(metrics.DropStale)
		return
	}

	decoder, err := c.acquire(job.gen)
	if errors.Is(err, errStale) {
		metrics.RecordDrop(metrics.DropStale)
		return
	}
	if err != nil {
		metrics.RecordDrop(metrics.DropDevice)
		logger.Error("Failed to open output device, dropping audio", err)
		return
	}

	buf, err := decoder.Decode(c.ctx, job.payload)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			metrics.RecordDrop(metrics.DropDecode)
			logger.Error("Failed to decode audio, dropping chunk", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a stop may have raced with decoding; never schedule onto a torn-down device
	if job.gen != c.gen.Load() || c.scheduler == nil {
		metrics.RecordDrop(metrics.DropStale)
		return
	}
	start, err := c.scheduler.Schedule(buf)
	if err != nil {
		metrics.RecordDrop(metrics.DropDevice)
		logger.Error("Failed to schedule audio", err)
		return
	}
	logger.Debugf("🔊 Scheduled %v of audio at %v", buf.Duration(), start)
}

// acquire opens the device on first use and returns the decoder bound to it. It refuses
// with errStale once a stop has superseded gen, so a stopped controller never reopens a
// device for audio it is about to discard.
func (c *Controller) acquire(gen uint64) (*audio.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen.Load() {
		return nil, errStale
	}
	if c.device != nil {
		return c.decoder, nil
	}

	device, err := c.devices(c.cfg)
	if err != nil {
		return nil, err
	}
	c.device = device
	c.decoder = audio.NewDecoder(device.SampleRate(), device.Channels(), c.container)
	c.scheduler = NewGaplessScheduler(device)
	c.monitor.Attach(device.Analyser())
	logger.Infof("🔈 Output device ready (%d Hz, %d ch)", device.SampleRate(), device.Channels())
	return c.decoder, nil
}
