package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-hq/sentinel/internal/abtest"
	"github.com/sentinel-hq/sentinel/internal/config"
	"github.com/sentinel-hq/sentinel/internal/dispatcher"
	"github.com/sentinel-hq/sentinel/internal/queue"
	"github.com/sentinel-hq/sentinel/internal/resolver"
	"github.com/sentinel-hq/sentinel/internal/store"
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
	if cfg.Queue.SendQueueURL == "" {
		log.Fatal("send queue URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients, err := store.NewClients(ctx, cfg.AWS.Region, cfg.AWS.GetProfile())
	if err != nil {
		log.Fatalf("aws clients: %v", err)
	}

	campaigns := store.NewDynamoCampaignStore(clients.DynamoDB, cfg.Tables.Campaigns)
	segments := store.NewDynamoSegmentStore(clients.DynamoDB, cfg.Tables.Segments)
	events := store.NewDynamoEventStore(clients.DynamoDB, cfg.Tables.Events)

	res := resolver.New(segments)
	sendQueue := queue.NewSQSQueue(clients.SQS, cfg.Queue.SendQueueURL, cfg.Dispatch.ChunkSize)

	disp := dispatcher.New(campaigns, segments, res, sendQueue)
	scheduler := dispatcher.NewScheduler(campaigns, disp, cfg.Dispatch.TickInterval())
	scheduler.Start(ctx)

	analyzer := abtest.New(campaigns, events, res, sendQueue)
	decisions := abtest.NewTicker(campaigns, analyzer, cfg.Dispatch.TickInterval())
	decisions.Start(ctx)

	var starter *dispatcher.StartConsumer
	if cfg.Queue.StartQueueURL != "" {
		starter = dispatcher.NewStartConsumer(clients.SQS, cfg.Queue.StartQueueURL, disp)
		starter.Start(ctx)
	}

	log.Println("dispatcher running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down dispatcher...")

	scheduler.Stop()
	decisions.Stop()
	if starter != nil {
		starter.Stop()
	}
	cancel()
	time.Sleep(time.Second)
}
