package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/internal/worker"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := newLogger(cfg)

	if err := cfg.EnsureStorageDirs(); err != nil {
		logger.WithError(err).Fatal("Error preparing storage")
	}

	db, err := database.NewDatabase(cfg.DatabasePath())
	if err != nil {
		logger.WithError(err).Fatal("Error initializing job store")
	}
	defer db.Close()

	stop := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logger.Info("Received shutdown signal")
		close(stop)
	}()

	// worker siblings share nothing but the job store; the claim protocol
	// keeps them off each other's jobs
	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		w, err := worker.NewWorker(cfg, db, logger)
		if err != nil {
			logger.WithError(err).Fatal("Error creating worker")
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.WithField("worker", id).Info("Worker started")
			w.Run(stop)
		}(i)
	}
	wg.Wait()
	logger.Info("Worker shutdown complete")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
