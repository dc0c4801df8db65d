// Package main is the entrypoint for the RTMP relay server. It handles
// configuration loading, server startup, and graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"rtmpforge/internal/config"
	"rtmpforge/internal/server"
)

// main loads configuration, starts the server, and handles graceful shutdown.
func main() {
	// Parse command-line flags
	configPath := flag.String("config", "configs/rtmpforge.example.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Create root context
	ctx := context.Background()

	// Create server
	srv := server.New(cfg)

	// Create shutdown handler
	shutdownHandler := server.NewShutdownHandler(srv, ctx)

	// Start server in a goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	if err := shutdownHandler.Wait(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}

	log.Println("Server shut down cleanly")
}
