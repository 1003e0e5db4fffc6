package main

import (
	"context"
	"errors"
	"fmt"
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
	"comms/internal/domain"
	"comms/internal/engine"
	"comms/internal/httpserver"
	"comms/internal/logging"
	"comms/internal/observability"
	"comms/internal/orchestrator"
	sqsqueue "comms/internal/queue/sqs"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())

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
		slog.Error("worker init failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	queueReachable := func(c context.Context) error {
		_, err := rt.SQS.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.EventsQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}
	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS: rt.SQS, QueueURL: cfg.EventsQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness)
	checks := []httpserver.ReadyzCheck{queueReachable}
	for _, c := range rt.Checks {
		checks = append(checks, c)
	}
	healthSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.New(checks...).Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           httpserver.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", "err", err)
		}
	}()

	// start polling
	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.EventsQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, sqsqueue.Decode(func(ctx context.Context, job sqsqueue.EventJob) error {
			return handleEvent(ctx, rt.Orchestrator, job)
		}))
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
}

// handleEvent orchestrates one job. Jobs naming unknown people can never
// succeed and are dropped; anything else is left for SQS to redeliver.
func handleEvent(ctx context.Context, o *orchestrator.Orchestrator, job sqsqueue.EventJob) (err error) {
	start := time.Now()
	slog.InfoContext(ctx, "worker job start", "job_id", job.JobID, "event_type", job.EventType)
	defer func() {
		if err != nil {
			slog.InfoContext(ctx, "worker job finish",
				"job_id", job.JobID,
				"status", "error",
				"duration", time.Since(start),
				"err", err,
			)
		} else {
			slog.InfoContext(ctx, "worker job finish",
				"job_id", job.JobID,
				"status", "ok",
				"duration", time.Since(start),
			)
		}
	}()

	msgs, err := o.Orchestrate(ctx, orchestrator.Event{
		Type:           job.EventType,
		SubjectID:      job.RecipientID,
		ActorID:        job.ActorID,
		Context:        job.Context,
		ConversationID: job.ConversationID,
	})
	if errors.Is(err, domain.ErrInvalidRecipient) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %v", sqsqueue.ErrPoison, err)
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "event orchestrated", "job_id", job.JobID, "event_type", job.EventType, "messages", len(msgs))
	return nil
}
