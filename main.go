package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosley/callplay/config"
	"github.com/bosley/callplay/output"
	"github.com/bosley/callplay/player"
	"github.com/bosley/callplay/resolver"
	"github.com/bosley/callplay/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "Path to player config file (YAML)")
	addr := flag.String("addr", ":8444", "HTTP server address")
	publicURL := flag.String("public-url", "http://localhost:8444", "Base URL clients use to reach this server")
	certFile := flag.String("cert", "", "Path to server certificate file")
	keyFile := flag.String("key", "", "Path to server key file")
	local := flag.Bool("local", false, "Play the live source on the local sound card (WAV only)")
	probeURLs := flag.Bool("probe-urls", false, "Check that URL sources are reachable before accepting them")
	listDevices := flag.Bool("list-devices", false, "List available audio output devices")
	flag.Parse()

	if *listDevices {
		devices, err := output.ListDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio output devices:")
		for i, device := range devices {
			fmt.Printf("[%d] %s\n", i, device.Name)
			fmt.Printf("    Max Output Channels: %d\n", device.MaxOutputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "error", err, "path", *configPath)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	blobs := resolver.NewBlobs(*publicURL + "/blob/")

	hub := server.NewHub()
	hub.Observer = player.EmitterFunc(func(e player.Event) {
		if e.Type != player.EventTimeUpdate {
			slog.Debug("Player event", "type", e.Type, "payload", e.Payload)
		}
	})

	opts := player.Options{
		Emitter: hub,
		Blobs:   blobs,
	}
	if *probeURLs {
		opts.Prober = resolver.HTTPProber{Client: &http.Client{Timeout: 10 * time.Second}}
	}

	var speaker *output.Player
	if *local {
		var err error
		speaker, err = output.New(blobs)
		if err != nil {
			slog.Error("Failed to initialize local playback", "error", err)
			os.Exit(1)
		}
		defer speaker.Close()
		opts.Media = speaker
	}

	engine := player.New(opts)
	defer engine.Close()

	if speaker != nil {
		speaker.OnTick = engine.Tick
		speaker.OnEnded = engine.MediaEnded
		go speaker.Run(ctx)
	}

	if err := engine.Configure(ctx, cfg); err != nil {
		slog.Error("Failed to apply config", "error", err)
	}

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(c config.Component) {
			if err := engine.Configure(ctx, c); err != nil {
				slog.Error("Failed to apply reloaded config", "error", err)
			}
		})
		if err != nil {
			slog.Error("Failed to watch config", "error", err)
			os.Exit(1)
		}
		go watcher.Run(ctx)
	}

	token := os.Getenv("CALLPLAY_TOKEN")
	if token == "" {
		slog.Warn("CALLPLAY_TOKEN is not set, API is unauthenticated")
	}

	srv := server.New(server.Config{
		Addr:     *addr,
		CertFile: *certFile,
		KeyFile:  *keyFile,
		Token:    token,
	}, engine, hub)

	if err := srv.Start(ctx); err != nil {
		slog.Error("Server failed", "error", err)
	}

	slog.Debug("Program exiting")
}
