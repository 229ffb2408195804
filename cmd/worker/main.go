package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"servicehours/internal/config"
	"servicehours/internal/notify"
	"servicehours/internal/participation"
	"servicehours/internal/store"
)

// Worker drains the notification queue and hands each envelope to the
// delivery boundary. Actual email rendering and sending live outside this
// service; a failed lookup or delivery is logged and the envelope dropped,
// never retried against the lifecycle state.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q notify.Queue
	if cfg.QueueBackend == "memory" {
		q = notify.NewInMemory(64)
	} else {
		q = notify.NewRedisQueue(redisClient.Client, cfg.NotificationQueueKey)
	}

	repo := participation.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("notification worker started, waiting for messages...")
	for body := range messages {
		env, err := notify.Decode(body)
		if err != nil {
			log.Printf("bad envelope, dropping: %v", err)
			continue
		}

		user, err := repo.FindUser(ctx, env.RecipientID)
		if err != nil {
			log.Printf("recipient lookup %s failed: %v", env.RecipientID, err)
			continue
		}
		if user == nil {
			log.Printf("recipient %s not found, dropping %s", env.RecipientID, env.Kind)
			continue
		}

		log.Printf("deliver %s to %s <%s> (event %s)", env.Kind, user.Name, user.Email, env.EventID)
	}

	log.Println("notification worker stopped")
}
