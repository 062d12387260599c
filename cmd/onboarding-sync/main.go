// ==============================================================================
// ONBOARDING SYNC WORKER - cmd/onboarding-sync/main.go
// ==============================================================================
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"sadaqah/internal/events"
	"sadaqah/internal/onboarding"
	stripeprovider "sadaqah/internal/provider/stripe"
	"sadaqah/internal/repository/postgres"
	"sadaqah/internal/scheduler"
	"sadaqah/pkg/config"
	"sadaqah/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("sadaqah-onboarding-sync")

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	var publisher interface {
		onboarding.EventPublisher
		Close()
	} = events.Discard{Logger: log}
	if cfg.RabbitMQ.URL != "" {
		p, err := events.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Error("Failed to connect to RabbitMQ, onboarding events will not be published", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	accountRepo := postgres.NewAccountRepository(db)
	stripeClient := stripeprovider.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.MaxNetworkRetries, log)

	// Sync never issues links, so the worker has no base URL to resolve.
	manager := onboarding.NewManager(accountRepo, accountRepo, stripeClient, nil, publisher, onboarding.Config{
		Country:      cfg.Stripe.AccountCountry,
		BusinessType: cfg.Stripe.BusinessType,
		AdminPath:    cfg.App.AdminPath,
		Retries:      cfg.Onboarding.ProviderRetry,
		RetryMaxWait: cfg.Onboarding.RetryMaxWait,
	}, log)

	jobs := scheduler.NewJobs(manager, postgres.NewWebhookEventRepository(db), cfg.Onboarding.EventRetention, log)
	sched := scheduler.NewScheduler(log)
	if err := jobs.Register(sched, cfg.Onboarding.SyncSchedule, cfg.Onboarding.PruneSchedule); err != nil {
		log.Fatal("Failed to register jobs", map[string]interface{}{"error": err.Error()})
	}

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		failed := false
		for _, name := range sched.Names() {
			if err := sched.RunNow(ctx, name); err != nil {
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	sched.Start()
	log.Info("Onboarding sync worker started", map[string]interface{}{
		"sync_schedule":  cfg.Onboarding.SyncSchedule,
		"prune_schedule": cfg.Onboarding.PruneSchedule,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down onboarding sync worker...", nil)

	select {
	case <-sched.Stop().Done():
	case <-time.After(30 * time.Second):
		log.Warn("Jobs still running at shutdown", nil)
	}

	log.Info("Onboarding sync worker stopped", nil)
}
