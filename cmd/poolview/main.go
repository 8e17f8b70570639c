package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"poolview/internal/api"
	"poolview/internal/bridge"
	"poolview/internal/config"
	"poolview/internal/coordinator"
	"poolview/internal/events"
	"poolview/internal/indygo"
	"poolview/internal/mqtt"
	"poolview/internal/storage"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	envFile := flag.String("env", ".env", "Path to the configuration file")
	flag.Parse()

	// Load configuration from .env file
	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Printf("Configuration loaded: %s", cfg)

	// Portal session and client
	session, err := indygo.NewSession(cfg.PortalBaseURL(), cfg.PortalEmail(), cfg.PortalPassword(), logger)
	if err != nil {
		logger.Fatalf("Failed to create portal session: %v", err)
	}
	defer session.Close()

	client := indygo.NewClient(session, cfg.PoolID(), indygo.NormalizeOptions{
		EmitLegacyTemperature: cfg.LegacyTemperature(),
	}, logger)

	// Fail fast on bad portal credentials
	loginCtx, cancelLogin := context.WithTimeout(context.Background(), 30*time.Second)
	err = session.Login(loginCtx)
	cancelLogin()
	if err != nil {
		var authErr *indygo.AuthenticationError
		if errors.As(err, &authErr) {
			logger.Fatalf("Portal rejected credentials: %v", err)
		}
		// Transient portal problems shouldn't kill the daemon, the
		// coordinator retries on every poll
		logger.Printf("Initial portal login failed: %v", err)
	}

	// Storage
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		logger.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := storage.NewBoltStorage(filepath.Join(cfg.DataDir(), "poolview.db"))
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	eventStore := events.NewStore(100) // Keep last 100 events in memory

	// Optional MQTT bridge
	var coord *coordinator.Coordinator
	var br *bridge.Bridge
	var mqttClient *mqtt.Client

	if cfg.MQTTBroker() != "" {
		mqttClient, err = mqtt.New(mqtt.Config{
			Broker:   cfg.MQTTBroker(),
			ClientID: cfg.MQTTClientID(),
			Username: cfg.MQTTUsername(),
			Password: cfg.MQTTPassword(),
			Prefix:   cfg.MQTTPrefix(),
			UseTLS:   cfg.MQTTUseTLS(),
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to create MQTT client: %v", err)
		}

		if err := mqttClient.Connect(); err != nil {
			logger.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer mqttClient.Disconnect()

		br = bridge.New(mqttClient, store, logger, func(ctx context.Context, moduleID string, mode int) error {
			return coord.SetFiltrationMode(ctx, moduleID, mode)
		})
	}

	// Coordinator: the bridge is a plain interface value, keep nil when
	// MQTT is disabled
	var sink coordinator.SnapshotSink
	if br != nil {
		sink = br
	}
	coord = coordinator.New(client, sink, store, eventStore, cfg.PollInterval(), logger)

	if br != nil {
		if err := br.Start(); err != nil {
			logger.Fatalf("Failed to start MQTT bridge: %v", err)
		}
		defer br.Stop()
	}

	// API server
	server := api.NewServer(coord, store, eventStore, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventStore.Add(events.EventStartup, "", "", true, "poolview "+Version)

	// Poll loop
	go coord.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Router(),
	}

	go func() {
		fmt.Printf("PoolView %s starting on %s\n", Version, cfg.Addr())
		if cfg.NoAuth() {
			fmt.Println("WARNING: Authentication is DISABLED!")
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("Shutting down")
	eventStore.Add(events.EventShutdown, "", "", true, "")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown failed: %v", err)
	}
}
