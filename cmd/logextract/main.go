package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coffersTech/logextract/internal/config"
	"github.com/coffersTech/logextract/internal/engine"
	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/ingest"
	"github.com/coffersTech/logextract/internal/registry"
	"github.com/coffersTech/logextract/internal/server"
	"github.com/coffersTech/logextract/internal/visits"
)

func main() {
	// Command-line flags. Any flag given explicitly overrides the config file.
	configPath := flag.String("config", "", "Path to a YAML config file")
	port := flag.Int("port", 0, "HTTP port to listen on")
	logDir := flag.String("logs", "", "Directory holding the master log and generated files")
	master := flag.String("master", "", "Master log file name inside the log directory")
	workers := flag.Int("workers", 0, "Maximum concurrent asynchronous jobs")
	jobDelay := flag.Duration("job-delay", 0, "Delay injected before each asynchronous job")
	retention := flag.Duration("retention", 0, "Delete generated files older than this (0 keeps them)")
	jobTTL := flag.Duration("job-ttl", 0, "Forget finished jobs older than this (0 keeps them)")
	stateFile := flag.String("state", "", "File used to persist the job registry across restarts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "logs":
			cfg.LogDir = *logDir
		case "master":
			cfg.MasterLog = *master
		case "workers":
			cfg.Workers = *workers
		case "job-delay":
			cfg.JobDelay = config.Duration(*jobDelay)
		case "retention":
			cfg.OutputRetention = config.Duration(*retention)
		case "job-ttl":
			cfg.JobTTL = config.Duration(*jobTTL)
		case "state":
			cfg.StateFile = *stateFile
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	log.Println("LogExtract v0.1 Started...")

	// 1. Path resolver and runner over the master log
	resolver, err := extract.NewResolver(cfg.LogDir, cfg.MasterLog)
	if err != nil {
		log.Fatalf("Failed to open log directory: %v", err)
	}
	runner := extract.NewRunner(resolver.MasterLogPath())
	log.Printf("Log directory: %s, master log: %s", resolver.Dir(), resolver.MasterLogPath())

	// 2. Job registry, restored from the last snapshot when configured
	store := registry.NewStore()
	if cfg.StateFile != "" {
		n, err := store.LoadSnapshot(cfg.StateFile)
		if err != nil {
			log.Printf("Failed to load job state: %v", err)
		} else if n > 0 {
			log.Printf("Restored %d jobs from %s", n, cfg.StateFile)
		}
	}

	// 3. Orchestrator and retriever
	stats := engine.NewStats()
	orch := engine.NewOrchestrator(resolver, runner, store, stats, engine.Options{
		Workers: cfg.Workers,
		Delay:   time.Duration(cfg.JobDelay),
	})
	retriever := engine.NewRetriever(resolver, runner, store, stats)
	log.Printf("Orchestrator initialized. Workers: %d, Job delay: %v", cfg.Workers, time.Duration(cfg.JobDelay))

	appender, err := ingest.OpenAppender(resolver.MasterLogPath())
	if err != nil {
		log.Fatalf("Failed to open master log for ingest: %v", err)
	}

	// Background cleanup
	bgCtx, stopBackground := context.WithCancel(context.Background())
	cleaner := engine.NewCleaner(resolver, time.Duration(cfg.OutputRetention))
	if n := cleaner.RemoveTemps(0); n > 0 {
		log.Printf("Removed %d stale temp files", n)
	}
	if cfg.OutputRetention > 0 {
		go cleaner.RunCleaner(bgCtx, time.Duration(cfg.CleanerInterval))
	}
	if cfg.JobTTL > 0 {
		store.StartCleanupLoop(bgCtx, time.Duration(cfg.CleanerInterval), time.Duration(cfg.JobTTL))
	}

	// 4. HTTP server
	srv := server.NewExtractServer(server.Deps{
		Orchestrator: orch,
		Retriever:    retriever,
		Store:        store,
		Stats:        stats,
		Appender:     appender,
		Visits:       visits.NewCounter(cfg.VisitRate),
		LogDir:       resolver.Dir(),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	go func() {
		log.Printf("Listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown Hook
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down...", sig)
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Waiting for running jobs...")
	if err := orch.Shutdown(ctx); err != nil {
		log.Printf("Jobs interrupted: %v", err)
	}

	if cfg.StateFile != "" {
		if err := store.SaveSnapshot(cfg.StateFile); err != nil {
			log.Printf("Failed to save job state: %v", err)
		}
	}

	if err := appender.Close(); err != nil {
		log.Printf("Failed to close master log: %v", err)
	}

	log.Println("LogExtract exited gracefully.")
}
