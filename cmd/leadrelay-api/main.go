package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"leadrelay/internal/config"
	"leadrelay/internal/delivery"
	server "leadrelay/internal/http"
	"leadrelay/internal/jobs"
	"leadrelay/internal/migrate"
	"leadrelay/internal/model"
	"leadrelay/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Stop on SIGINT/SIGTERM; workers drain their in-flight job first.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startWorker := func() {
		registry := jobs.Registry{
			model.JobTypeSheetAppend: delivery.NewSheetAppendHandler(cfg.Targets.Sheet),
			model.JobTypeCRMPush:     delivery.NewCRMPushHandler(cfg.Targets.CRM),
		}
		if err := registry.Validate(); err != nil {
			log.Fatalf("handler registry invalid: %v", err)
		}
		runner := jobs.NewRunner(cfg, st, registry, logger)
		go runner.Start(rootCtx)
	}

	switch *role {
	case "api":
		s := server.NewServer(cfg, st, logger)
		go func() {
			<-rootCtx.Done()
			_ = s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "worker":
		startWorker()
		<-rootCtx.Done()
	case "all":
		startWorker()
		s := server.NewServer(cfg, st, logger)
		go func() {
			<-rootCtx.Done()
			_ = s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}
