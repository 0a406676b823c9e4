// Command poolserver runs a DataSource behind the admin/metrics HTTP
// side-car (internal/adminapi) plus, when redis is configured, dynamic
// pool reconfiguration (internal/poolconfig). Grounded on
// cmd/api/main.go's shape: flag-parsed config path, logger init, start
// server in a goroutine, block on an interrupt signal, shut down with a
// bounded context.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kafitramarna/fibersql/config"
	"github.com/kafitramarna/fibersql/datasource"
	"github.com/kafitramarna/fibersql/internal/adminapi"
	"github.com/kafitramarna/fibersql/internal/logger"
	"github.com/kafitramarna/fibersql/internal/poolconfig"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Init("INFO")
	logger.Info("fibersql pool server starting")
	logger.Info("configuration loaded", "path", *configPath)

	ds, err := datasource.Open(*cfg)
	if err != nil {
		log.Fatalf("failed to open datasource: %v", err)
	}

	var store *poolconfig.Store
	if cfg.Redis.Host != "" {
		store, err = poolconfig.NewStore(cfg.Redis)
		if err != nil {
			logger.Warn("redis connection failed, dynamic reconfiguration disabled", "error", err)
		} else {
			logger.Info("redis connection established", "host", cfg.Redis.Host)
			go poolconfig.Watch(context.Background(), store, ds)
		}
	}

	server := adminapi.New(ds, cfg.Admin.Host, cfg.Admin.Port)

	go func() {
		logger.Info("admin server listening", "host", cfg.Admin.Host, "port", cfg.Admin.Port)
		if err := server.Start(); err != nil {
			logger.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutdown signal received, gracefully stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	if store != nil {
		store.Close()
	}
	if err := ds.Close(ctx); err != nil {
		logger.Error("datasource close error", "error", err)
	}
}
