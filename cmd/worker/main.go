package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinel-hq/sentinel/internal/config"
	"github.com/sentinel-hq/sentinel/internal/delivery"
	"github.com/sentinel-hq/sentinel/internal/queue"
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

	events := store.NewDynamoEventStore(clients.DynamoDB, cfg.Tables.Events)
	links := store.NewDynamoLinkStore(clients.DynamoDB, cfg.Tables.TrackingLinks)

	ses, err := delivery.NewSESTransport(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.Timeout())
	if err != nil {
		log.Fatalf("ses transport: %v", err)
	}
	transports := map[string]delivery.Transport{
		ses.Name(): ses,
	}
	if cfg.Gmail.ClientID != "" && cfg.Gmail.RefreshToken != "" {
		gmail := delivery.NewGmailTransport(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RefreshToken, cfg.Gmail.Timeout())
		transports[gmail.Name()] = gmail
	}

	var throttle *delivery.Throttle
	if cfg.Throttle.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Throttle.RedisAddr,
			Password: cfg.Throttle.RedisPassword,
		})
		throttle = delivery.NewThrottle(rdb, delivery.Limits{
			PerSecond: cfg.Throttle.PerSecond,
			PerMinute: cfg.Throttle.PerMinute,
			PerDay:    cfg.Throttle.PerDay,
		})
	}

	instr := delivery.NewInstrumenter(links, cfg.Tracking.BaseURL,
		time.Duration(cfg.Tracking.LinkTTLDays)*24*time.Hour)
	worker := delivery.NewWorker(events, delivery.NewRenderer(), instr, transports, throttle)

	consumer := queue.NewConsumer(clients.SQS, cfg.Queue.SendQueueURL, worker)
	consumer.Start(ctx)
	log.Println("delivery worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down delivery worker...")

	consumer.Stop()
	cancel()
	time.Sleep(time.Second)
}
