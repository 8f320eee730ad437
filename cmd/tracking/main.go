package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sentinel-hq/sentinel/internal/config"
	"github.com/sentinel-hq/sentinel/internal/store"
	"github.com/sentinel-hq/sentinel/internal/tracking"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx := context.Background()
	clients, err := store.NewClients(ctx, cfg.AWS.Region, cfg.AWS.GetProfile())
	if err != nil {
		log.Fatalf("aws clients: %v", err)
	}

	events := store.NewDynamoEventStore(clients.DynamoDB, cfg.Tables.Events)
	links := store.NewDynamoLinkStore(clients.DynamoDB, cfg.Tables.TrackingLinks)

	var assets *tracking.AssetServer
	if cfg.Tracking.LogoBucket != "" && cfg.Tracking.LogoKey != "" {
		assets = tracking.NewAssetServer(clients.S3, cfg.Tracking.LogoBucket, cfg.Tracking.LogoKey)
	}

	handler := tracking.NewHandler(events, links, assets, cfg.Tracking.FallbackURL)

	srv := &http.Server{
		Addr:         cfg.Server.GetHost() + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

