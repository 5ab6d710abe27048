package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/audio/speaker"
	"github.com/brije111/quietshare/internal/config"
	"github.com/brije111/quietshare/internal/forward"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/netaudio"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/receiver"
	"github.com/brije111/quietshare/internal/server"
	"github.com/brije111/quietshare/internal/session"
	"github.com/brije111/quietshare/internal/transmitter"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "quietshare"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	appMetrics := metrics.NewMetrics(nil)

	registry, err := loadProfiles(cfg.Profiles)
	if err != nil {
		return err
	}
	initial, err := registry.Resolve(cfg.Profiles.Default)
	if err != nil {
		return fmt.Errorf("default profile: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.Int("profiles", registry.Len()),
		slog.String("default_profile", initial.Name),
		slog.String("input", cfg.Audio.Input.Kind),
		slog.String("output", cfg.Audio.Output.Kind),
		slog.Bool("receiver_enabled", cfg.Receiver.Enabled),
		slog.Bool("forward_enabled", cfg.Forward.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	devs, err := openDevices(cfg, initial.SampleRate, logger, appMetrics)
	if err != nil {
		return err
	}
	defer devs.Close()

	gate := receiver.NewToggleGate(cfg.Receiver.AccessGranted)
	sess := session.New(session.Config{
		Receiver: []receiver.Option{
			receiver.WithQueueSize(cfg.Receiver.QueueSize),
			receiver.WithChunkSize(cfg.Receiver.ChunkSize),
			receiver.WithThreshold(cfg.Receiver.Threshold),
			receiver.WithSquelch(cfg.Receiver.Squelch),
			receiver.WithCarrierThreshold(cfg.Receiver.CarrierThreshold),
		},
		Transmitter: []transmitter.Option{
			transmitter.WithGuard(cfg.Transmitter.GetGuardDuration()),
			transmitter.WithPending(cfg.Transmitter.Pending),
		},
	}, registry, devs.sink, devs.input, gate, logger, appMetrics)
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Open(ctx, initial.Name); err != nil {
		if !errors.Is(err, receiver.ErrAccessDenied) {
			return fmt.Errorf("failed to open session: %w", err)
		}
		logger.Warn("Receiver waiting for input access; grant it with POST /access")
	}

	var client *forward.Client
	if cfg.Forward.Enabled {
		client, err = forward.NewClient(forward.Config{
			Endpoint:      cfg.Forward.Endpoint,
			APIKey:        cfg.Forward.APIKey,
			Timeout:       cfg.Forward.GetTimeoutDuration(),
			MaxRetries:    cfg.Forward.MaxRetries,
			MaxConcurrent: cfg.Forward.MaxConcurrent,
		}, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create forward client: %w", err)
		}
		defer client.Close()
		logger.Info("Event forwarding enabled", slog.String("endpoint", cfg.Forward.Endpoint))
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.Dependencies{
			Config:    cfg,
			Session:   sess,
			Registry:  registry,
			Gate:      gate,
			Forwarder: client,
			Input:     devs.udpInput,
			Metrics:   appMetrics,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if client != nil {
		listener := sess.Events(0)
		fwd := forward.NewForwarder(client, logger, cfg.Forward.IncludeFailures)
		g.Go(func() error {
			err := fwd.Run(gctx, listener.Events())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}

		// Closing the session ends every listener, which ends the forwarder
		return sess.Close()
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("profile", initial.Name),
	)

	err = g.Wait()

	info := sess.Info()
	logger.Info("Final session statistics",
		slog.Int("profile_switches", info.Switches),
		slog.Uint64("frames_decoded", info.Receiver.Decoder.Decoded),
		slog.Uint64("invalid_headers", info.Receiver.Decoder.InvalidHeaders),
		slog.Uint64("checksum_mismatches", info.Receiver.Decoder.ChecksumMismatches),
	)
	return err
}

func loadProfiles(cfg config.ProfilesConfig) (*profile.Registry, error) {
	if cfg.Path == "" {
		return profile.LoadDefault()
	}
	registry, err := profile.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return registry, nil
}

// devices holds the audio endpoints built from configuration
type devices struct {
	input    audio.Input
	sink     audio.Sink
	udpInput *netaudio.UDPInput
	closers  []func() error
}

func (d *devices) Close() {
	for _, c := range d.closers {
		c()
	}
}

func openDevices(cfg *config.Config, sampleRate int, logger *slog.Logger, m *metrics.Metrics) (*devices, error) {
	d := &devices{}
	in, out := cfg.Audio.Input, cfg.Audio.Output

	var lb *audio.Loopback
	if in.Kind == config.DeviceLoopback || out.Kind == config.DeviceLoopback {
		var opts []audio.LoopbackOption
		if out.Realtime {
			opts = append(opts, audio.WithRealtime())
		}
		// Profiles at another sample rate cannot receive through the loopback
		lb = audio.NewLoopback(sampleRate, opts...)
	}

	if cfg.Receiver.Enabled {
		switch in.Kind {
		case config.DeviceUDP:
			d.udpInput = netaudio.NewUDPInput(netaudio.InputConfig{
				Address:    in.Address,
				BufferSize: in.BufferSize,
				QueueSize:  in.QueueSize,
				MaxGap:     uint32(in.MaxGap),
				IdleFlush:  in.GetIdleFlushDuration(),
			}, logger, m)
			d.input = d.udpInput
		case config.DeviceWAV:
			d.input = audio.WAVInput(in.Path)
		case config.DeviceLoopback:
			d.input = audio.Exclusive(lb)
		}
	}

	switch out.Kind {
	case config.DeviceNull:
		d.sink = audio.NullSink{}
	case config.DeviceLoopback:
		d.sink = lb
	case config.DeviceWAV:
		sink, err := audio.NewWAVSink(out.Path, out.Append)
		if err != nil {
			return nil, fmt.Errorf("failed to open wav output: %w", err)
		}
		d.sink = sink
	case config.DeviceUDP:
		sink, err := netaudio.NewUDPSink(netaudio.SinkConfig{
			Address:        out.Address,
			PacketDuration: out.GetPacketDuration(),
			Realtime:       out.Realtime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open udp output: %w", err)
		}
		d.sink = sink
		d.closers = append(d.closers, sink.Close)
	case config.DeviceSpeaker:
		sink, err := speaker.New(sampleRate, out.GetBufferTime())
		if err != nil {
			return nil, err
		}
		d.sink = sink
		d.closers = append(d.closers, sink.Close)
	}

	logger.Info("Audio devices ready",
		slog.String("input", in.Kind),
		slog.Bool("receive", d.input != nil),
		slog.String("output", out.Kind),
	)
	return d, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
