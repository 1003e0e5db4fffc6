package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"comms/internal/audit"
	"comms/internal/awsutil"
	"comms/internal/cache"
	"comms/internal/config"
	sqsqueue "comms/internal/queue/sqs"
	"comms/internal/store"
	"comms/internal/store/memory"
	"comms/internal/store/pg"
)

// Options are the process-level inputs shared by every binary.
type Options struct {
	Settings config.Settings
	DB       config.DBConfig

	RedisURL    string
	TemplateTTL time.Duration

	AWSRegion          string
	LocalstackEndpoint string
	AuditQueueURL      string
	AuditBuffer        int
}

// Runtime owns the connections behind an Engine.
type Runtime struct {
	*Engine
	SQS    *sqs.Client
	Checks []func(context.Context) error

	closers []func()
}

// Open connects to Postgres (or an in-memory store when DB_DSN is empty),
// Redis and SQS as configured and builds the engine on top.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	var st store.Store
	if opts.DB.DBDSN == "" {
		slog.WarnContext(ctx, "DB_DSN not set, using in-memory store")
		st = memory.New()
	} else {
		pool, err := pg.Connect(ctx, opts.DB)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Checks = append(rt.Checks, pool.Ping)
		st = pg.New(pool)
	}

	var templates store.TemplateStore = st
	if opts.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, opts.RedisURL)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func() { _ = rc.Close() })
		rt.Checks = append(rt.Checks, rc.Ping)
		templates = &cache.Templates{Next: st, KV: rc, TTL: opts.TemplateTTL}
	}

	client, err := awsutil.NewSQSClient(ctx, opts.AWSRegion, opts.LocalstackEndpoint)
	if err != nil {
		return fail(fmt.Errorf("sqs client: %w", err))
	}
	rt.SQS = client

	sinks := []audit.Sink{audit.Log{}}
	if opts.AuditQueueURL != "" {
		sinks = append(sinks, audit.Queue{Producer: &sqsqueue.Producer{SQS: client, QueueURL: opts.AuditQueueURL}})
	}
	em := audit.NewAsync(opts.AuditBuffer, sinks...)
	// Registered after the stores so it drains before they close.
	rt.closers = append(rt.closers, em.Close)

	reg, err := BuildRegistry(ctx, opts.Settings, st, opts.LocalstackEndpoint)
	if err != nil {
		return fail(err)
	}

	rt.Engine = New(Deps{
		Store:     st,
		Registry:  reg,
		Settings:  opts.Settings,
		Templates: templates,
		Audit:     em,
	})
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
