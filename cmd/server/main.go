package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EconLab/internal/config"
	"EconLab/internal/experiment"
	"EconLab/internal/random"
	"EconLab/internal/scheduler"
	"EconLab/internal/store"
	"EconLab/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] EconLab starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init store: Postgres when a DATABASE_URL is configured, SQLite otherwise
	var st store.Store
	if cfg.Database.URL != "" {
		st, err = store.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("[FATAL] init postgres store: %v", err)
		}
	} else {
		st, err = store.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			log.Fatalf("[FATAL] init sqlite store: %v", err)
		}
	}
	defer st.Close()

	// Init state machine
	machine := experiment.New(st, random.NewCryptoSource())

	// Init retention sweeper
	if cfg.Retention.Cron != "" {
		maxAge := time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour
		sched := scheduler.NewScheduler(st, maxAge)
		if err := sched.Register(cfg.Retention.Cron); err != nil {
			log.Fatalf("[FATAL] register retention task: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Init HTTP server
	srv, err := web.NewServer(machine, st, cfg.Admin.Key)
	if err != nil {
		log.Fatalf("[FATAL] init web server: %v", err)
	}
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[INFO] listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[FATAL] http server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}
	log.Println("[INFO] EconLab stopped")
}
