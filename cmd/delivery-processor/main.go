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

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"comms/internal/config"
	"comms/internal/delivery"
	"comms/internal/engine"
	"comms/internal/httpserver"
	"comms/internal/logging"
	"comms/internal/observability"
	sqsqueue "comms/internal/queue/sqs"
)

func main() {
	cfg := config.LoadDelivery()
	logging.Init("delivery-processor", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	// Provider settings are irrelevant here; the processor never sends.
	settings := config.DefaultSettings()
	settings.EmailEnabled = false
	settings.SMSEnabled = false

	rt, err := engine.Open(ctx, engine.Options{
		Settings:           settings,
		DB:                 cfg.DBConfig,
		AWSRegion:          cfg.AWSRegion,
		LocalstackEndpoint: cfg.LocalstackEndpoint,
		AuditQueueURL:      cfg.AuditQueueURL,
		AuditBuffer:        cfg.AuditBuffer,
	})
	if err != nil {
		slog.Error("delivery-processor init failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS:               rt.SQS,
		QueueURL:          cfg.DeliveryQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}
	processor := &delivery.Processor{Ledger: rt.Ledger}

	// health + metrics servers
	checks := []httpserver.ReadyzCheck{
		func(c context.Context) error {
			_, err := rt.SQS.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.DeliveryQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		},
	}
	for _, c := range rt.Checks {
		checks = append(checks, c)
	}
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpserver.New(checks...).Mux, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: httpserver.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("delivery-processor health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("delivery-processor metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	// start polling
	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("delivery-processor starting poll", "queue_url", cfg.DeliveryQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.ProcessorConcurrency, processor.Handle)
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("delivery-processor poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("delivery-processor health server failed", "err", err)
			os.Exit(1)
		}
	case err := <-metricsErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("delivery-processor metrics server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("delivery-processor shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("delivery-processor shutdown timeout waiting for poll loop")
	}
}
