package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dooshek/speakstream/internal/config"
	"github.com/dooshek/speakstream/internal/dbus"
	"github.com/dooshek/speakstream/internal/fileops"
	"github.com/dooshek/speakstream/internal/logger"
	"github.com/dooshek/speakstream/internal/metrics"
	"github.com/dooshek/speakstream/internal/playback"
	"github.com/dooshek/speakstream/internal/tts"
	"github.com/dooshek/speakstream/internal/types"
)

// idleSettle is how long playback must stay idle before a text run exits. Streaming
// backends return before their audio arrives.
const idleSettle = 1500 * time.Millisecond

func init() {
	// Set custom usage message to show -- prefix
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(out, "  --%s", f.Name)
			name, usage := flag.UnquoteUsage(f)
			if len(name) > 0 {
				fmt.Fprintf(out, " %s", name)
			}
			fmt.Fprintf(out, "\n    \t%s", usage)
			if f.DefValue != "" && f.DefValue != "false" {
				fmt.Fprintf(out, " (default %q)", f.DefValue)
			}
			fmt.Fprintf(out, "\n")
		})
	}
}

func main() {
	// Parse command line flags
	runWizard := flag.Bool("wizard", false, "Run the configuration wizard")
	logLevel := flag.String("log-level", "info", "Set log level (debug|info|warn|error)")
	logFilename := flag.String("log-filename", "", "Log to file instead of stdout")
	backendName := flag.String("backend", "", "Override the configured backend (stream|realtime|request|openai)")
	text := flag.String("text", "", "Speak this text and exit (default: read lines from stdin)")
	daemon := flag.Bool("dbus", false, "Run as a D-Bus service instead of reading text")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	showMeter := flag.Bool("meter", false, "Show a live volume meter on stderr")
	flag.Parse()

	// Set up logging level and output
	logger.SetLevel(*logLevel)
	if *logFilename != "" {
		if err := logger.SetOutputFile(*logFilename); err != nil {
			fmt.Printf("Error setting log file: %v\n", err)
			os.Exit(1)
		}
		defer logger.CloseLogFile()
	}

	if *runWizard {
		if err := config.RunWizard(); err != nil {
			logger.Error("Error running wizard", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*backendName, *text, *daemon, *metricsAddr, *showMeter); err != nil {
		logger.Error("speakstream failed", err)
		os.Exit(1)
	}
}

func run(backendName, text string, daemon bool, metricsAddr string, showMeter bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg == nil {
		// stdin may carry the text to speak, so fall back to environment credentials
		// rather than starting the wizard
		cfg = &types.Config{}
		if err := config.ApplyEnv(cfg); err != nil {
			return err
		}
		logger.Info("💡 No configuration found, using environment credentials. Run `speakstream --wizard` to create one")
	}

	speakerCfg := cfg.GetSpeakerConfig()
	if backendName != "" {
		speakerCfg.Backend = types.BackendKind(backendName)
	}

	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return fmt.Errorf("failed to initialize file operations: %w", err)
	}
	if daemon {
		// Check if another instance is running
		if err := fileOps.CheckPID(); errors.Is(err, fileops.ErrProcessAlreadyRunning) {
			return fmt.Errorf("another instance of speakstream is already running: %w", err)
		}
		if err := fileOps.SavePID(); err != nil {
			return fmt.Errorf("failed to save PID file: %w", err)
		}
		defer func() {
			if err := fileOps.CleanupPID(); err != nil {
				logger.Error("Failed to cleanup PID file", err)
			}
		}()
	}

	backend, err := tts.NewBackend(speakerCfg)
	if err != nil {
		return err
	}
	controller := playback.NewController(backend, speakerCfg.Playback)
	defer controller.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				logger.Error("Metrics server failed", err)
			}
		}()
	}

	if daemon {
		server := dbus.NewServer(controller)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start D-Bus service: %w", err)
		}
		defer server.Close()
		logger.Infof("Speaking on behalf of D-Bus clients with the %s backend", backend.Name())
		<-ctx.Done()
		logger.Info("Shutting down...")
		return nil
	}

	if showMeter {
		m := newMeter(os.Stderr)
		controller.SetVolumeCallback(m.update)
		defer m.clear()
	}

	if text != "" {
		controller.Speak(text, true)
	} else {
		readInto(ctx, os.Stdin, controller)
	}
	waitIdle(ctx, controller, idleSettle)
	return nil
}

// readInto streams lines from r into the controller and flushes at EOF
func readInto(ctx context.Context, r io.Reader, c *playback.Controller) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		c.Speak(line+" ", false)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Failed to read stdin", err)
	}
	c.Flush()
}

// waitIdle returns once the controller has been idle for settle, or ctx is done
func waitIdle(ctx context.Context, c *playback.Controller, settle time.Duration) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			c.StopAudio()
			return
		case now := <-ticker.C:
			if c.State() == playback.StateActive {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = now
			} else if now.Sub(idleSince) >= settle {
				return
			}
		}
	}
}
