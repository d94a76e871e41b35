package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guesttrack/channel"
	"guesttrack/config"
	"guesttrack/engine"
	"guesttrack/orderapi"
	"guesttrack/store"
	"guesttrack/www"
)

func main() {
	configPath := flag.String("config", "guesttrack.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *port > 0 {
		cfg.Web.Port = *port
	}

	// Open the local tracking store
	trackingStore, err := store.Open(&cfg.Storage)
	if err != nil {
		log.Fatalf("open tracking store: %v", err)
	}
	defer trackingStore.Close()

	// Order API client
	fetcher := orderapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	// Push channel
	transport, err := channel.NewTransport(&cfg.Messaging)
	if err != nil {
		log.Fatalf("messaging transport: %v", err)
	}
	manager := channel.NewManager(transport, channel.ManagerConfig{
		TopicPrefix: cfg.Messaging.TopicPrefix,
		BackoffBase: cfg.Tracking.BackoffBase,
		BackoffCap:  cfg.Tracking.BackoffCap,
		MaxFailures: cfg.Tracking.MaxFailures,
	})
	defer manager.Close()

	// Create and start the tracking engine
	eng := engine.New(engine.Config{
		Tracking: cfg.Tracking,
		Store:    trackingStore,
		Fetcher:  fetcher,
		Channel:  manager,
		LogFunc:  log.Printf,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer eng.Stop()

	// Set up HTTP server
	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("guesttrack listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	// Graceful HTTP shutdown with 10s deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
