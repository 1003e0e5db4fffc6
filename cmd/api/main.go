package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"comms/internal/config"
	"comms/internal/engine"
	"comms/internal/httpserver"
	"comms/internal/logging"
	"comms/internal/observability"
	sqsqueue "comms/internal/queue/sqs"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := engine.Open(ctx, engine.Options{
		Settings:           cfg.Settings,
		DB:                 cfg.DBConfig,
		RedisURL:           cfg.RedisURL,
		TemplateTTL:        cfg.TemplateTTL,
		AWSRegion:          cfg.AWSRegion,
		LocalstackEndpoint: cfg.LocalstackEndpoint,
		AuditQueueURL:      cfg.AuditQueueURL,
		AuditBuffer:        cfg.AuditBuffer,
	})
	if err != nil {
		slog.Error("api init failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	observability.Register(prometheus.DefaultRegisterer)

	checks := make([]httpserver.ReadyzCheck, 0, len(rt.Checks))
	for _, c := range rt.Checks {
		checks = append(checks, c)
	}
	s := httpserver.New(checks...)

	api := &httpserver.API{Engine: rt.Engine}
	if cfg.EventsQueueURL != "" {
		api.Events = &sqsqueue.Producer{SQS: rt.SQS, QueueURL: cfg.EventsQueueURL, FIFO: sqsqueue.IsFIFO(cfg.EventsQueueURL)}
	}
	api.Register(s.Mux)

	hook := &httpserver.Webhook{Ledger: rt.Ledger, AuthToken: cfg.TwilioAuthToken, PublicURL: cfg.PublicWebhookURL}
	if cfg.DeliveryQueueURL != "" {
		hook.Queue = &sqsqueue.Producer{SQS: rt.SQS, QueueURL: cfg.DeliveryQueueURL, FIFO: sqsqueue.IsFIFO(cfg.DeliveryQueueURL)}
	}
	hook.Register(s.Mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           httpserver.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
