package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/api"
	"github.com/anima/anima-backend/internal/config"
	"github.com/anima/anima-backend/internal/logging"
	"github.com/anima/anima-backend/internal/relay"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)

	upstream := relay.NewUpstream(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, &http.Client{})
	if !upstream.Configured() {
		logger.Warn("OPENAI_API_KEY is not set; chat requests will be rejected")
	}

	relayHandler := relay.NewHandler(upstream, relay.HandlerConfig{
		Model:    cfg.Upstream.Model,
		MaxTurns: cfg.Upstream.MaxTurns,
		Timeout:  cfg.Upstream.Timeout,
	}, logging.Component(logger, "relay"))

	app := api.NewApp(cfg.Server, relayHandler, logger)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down relay")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.WithFields(logrus.Fields{
		"addr":  addr,
		"model": cfg.Upstream.Model,
	}).Info("Anima relay starting")
	if err := app.Listen(addr); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
