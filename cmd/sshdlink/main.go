package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/sensor"
	"github.com/shaunagostinho/sshdlink/internal/server"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

func main() {
	configPath := flag.String("config", server.DefaultPath, "Path to config file")
	demo := flag.Bool("demo", false, "Run against the simulated sensor")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	stream := flag.Bool("stream", false, "Start streaming interval data on launch")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] sshdlink starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Sensor.Transport = sensor.TransportDemo
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *stream {
		cfg.Stream.AutoStart = true
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	prov, err := sensor.NewProvider(cfg.SensorConfig())
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	// The link needs an open stream, so wait for the sensor before serving.
	if !connectWithRetry(ctx, prov, 10) {
		return
	}
	defer prov.Close()

	link := transport.NewLink(prov.Stream(), nil, cfg.LinkConfig())
	client := sensor.NewClient(link, cfg.SensorConfig().Device)

	srv := server.New(cfg, client)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. It reports false when ctx
// ends first.
func connectWithRetry(ctx context.Context, p sensor.Provider, maxAttempts int) bool {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		if ctx.Err() != nil {
			return false
		}

		err := p.Connect(ctx)
		if err == nil {
			log.Printf("[%s] connected successfully (attempt %d)", p.Name(), attempt+1)
			return true
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				p.Name(), attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				p.Name(), attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
