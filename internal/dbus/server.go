package dbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/playback"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	dbusServiceName = "com.dooshek.speakstream"
	dbusObjectPath  = "/com/dooshek/speakstream/Speaker"
	dbusInterface   = "com.dooshek.speakstream.Speaker"

	// volumeSignalInterval caps VolumeChanged at ~30 signals per second
	volumeSignalInterval = 33 * time.Millisecond
)

// Speaker is the playback surface exported on the bus
type Speaker interface {
	Speak(text string, isFinal bool)
	Flush()
	StopAudio()
	Stop()
	State() playback.State
	SetVolumeCallback(fn func(float64))
}

// Server implements the D-Bus service for remote speech playback
type Server struct {
	conn    *dbus.Conn
	speaker Speaker
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	lastVolume time.Time
	emit       func(name string, args ...interface{}) error
}

// NewServer creates a D-Bus server for speaker. Volume updates are forwarded as signals
// once Start succeeds.
func NewServer(speaker Speaker) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		speaker: speaker,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.emit = s.emitSignal
	return s
}

// Start starts the D-Bus server
func (s *Server) Start() error {
	var err error
	s.conn, err = dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Request name
	reply, err := s.conn.RequestName(dbusServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		s.conn.Close()
		return fmt.Errorf("name already taken")
	}

	// Export object
	err = s.conn.Export(s, dbusObjectPath, dbusInterface)
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to export object: %w", err)
	}

	err = s.conn.Export(introspect.NewIntrospectable(introspection()), dbusObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	s.speaker.SetVolumeCallback(s.onVolume)

	logger.Infof("🔌 D-Bus service started: %s", dbusServiceName)
	return nil
}

func introspection() *introspect.Node {
	return &introspect.Node{
		Name: dbusObjectPath,
		Interfaces: []introspect.Interface{{
			Name: dbusInterface,
			Methods: []introspect.Method{
				{
					Name: "Speak",
					Args: []introspect.Arg{
						{Name: "text", Type: "s", Direction: "in"},
						{Name: "is_final", Type: "b", Direction: "in"},
					},
				},
				{Name: "Flush"},
				{Name: "StopAudio"},
				{Name: "Stop"},
				{
					Name: "GetState",
					Args: []introspect.Arg{
						{Name: "state", Type: "s", Direction: "out"},
					},
				},
			},
			Signals: []introspect.Signal{
				{
					Name: "VolumeChanged",
					Args: []introspect.Arg{
						{Name: "level", Type: "d"},
					},
				},
			},
		}},
	}
}

// Close stops the D-Bus server
func (s *Server) Close() {
	s.cancel()
	s.speaker.SetVolumeCallback(nil)
	if s.conn != nil {
		s.conn.Close()
	}
	logger.Infof("🔌 D-Bus service stopped")
}

// Wait waits for the server context to be cancelled
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// Speak queues text for playback (D-Bus method)
func (s *Server) Speak(text string, isFinal bool) *dbus.Error {
	logger.Debugf("D-Bus: Speak called (%d chars, final: %v)", len(text), isFinal)
	s.speaker.Speak(text, isFinal)
	return nil
}

// Flush sends buffered text (D-Bus method)
func (s *Server) Flush() *dbus.Error {
	logger.Debugf("D-Bus: Flush called")
	s.speaker.Flush()
	return nil
}

// StopAudio silences playback but keeps the session (D-Bus method)
func (s *Server) StopAudio() *dbus.Error {
	logger.Debugf("D-Bus: StopAudio called")
	s.speaker.StopAudio()
	return nil
}

// Stop silences playback and releases the device and session (D-Bus method)
func (s *Server) Stop() *dbus.Error {
	logger.Debugf("D-Bus: Stop called")
	s.speaker.Stop()
	return nil
}

// GetState returns "idle" or "active" (D-Bus method)
func (s *Server) GetState() (string, *dbus.Error) {
	return s.speaker.State().String(), nil
}

func (s *Server) onVolume(level float64) {
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastVolume) < volumeSignalInterval {
		s.mu.Unlock()
		return
	}
	s.lastVolume = now
	emit := s.emit
	s.mu.Unlock()

	if err := emit("VolumeChanged", level); err != nil {
		logger.Debugf("D-Bus: Failed to emit VolumeChanged: %v", err)
	}
}

// emitSignal emits a D-Bus signal
func (s *Server) emitSignal(name string, args ...interface{}) error {
	if s.conn == nil {
		return fmt.Errorf("cannot emit signal %s - no connection", name)
	}
	return s.conn.Emit(dbus.ObjectPath(dbusObjectPath), dbusInterface+"."+name, args...)
}
