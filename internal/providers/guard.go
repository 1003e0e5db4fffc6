package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"comms/internal/domain"
	"comms/internal/observability"
)

var tracer = otel.Tracer("comms/providers")

// ErrTimeout is returned when a provider does not answer within the guard timeout.
var ErrTimeout = errors.New("provider call timed out")

type GuardOptions struct {
	Timeout time.Duration
	RPS     float64
	Burst   int
	// ConsecutiveFailures trips the breaker. Zero means 10.
	ConsecutiveFailures uint32
	OpenFor             time.Duration
}

// Guard wraps a provider with a rate limiter, a circuit breaker and a hard
// timeout. A provider that ignores its context still returns to the caller
// once the timeout elapses.
type Guard struct {
	Provider
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
}

func NewGuard(p Provider, opts GuardOptions) *Guard {
	g := &Guard{Provider: p, Timeout: opts.Timeout}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.Limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	trip := opts.ConsecutiveFailures
	if trip == 0 {
		trip = 10
	}
	openFor := opts.OpenFor
	if openFor == 0 {
		openFor = 20 * time.Second
	}
	g.Breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(p.Channel()) + ":" + p.Name(),
		MaxRequests: 3,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
	})
	return g
}

type callResult struct {
	res domain.SendResult
	err error
}

func (g *Guard) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	name := g.Provider.Name()
	ctx, span := tracer.Start(ctx, "provider.send")
	span.SetAttributes(
		attribute.String("provider", name),
		attribute.String("channel", string(g.Provider.Channel())),
		attribute.String("message_id", msg.ID),
	)
	defer span.End()

	base := domain.SendResult{Provider: name}

	if g.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
		err := g.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			observability.ProviderSend.WithLabelValues(name, "rate_limited").Inc()
			span.SetStatus(codes.Error, "rate limited")
			return base, fmt.Errorf("%s rate limited: %w", name, err)
		}
	}

	start := time.Now()
	call := func() (any, error) {
		r := g.call(ctx, msg)
		return r.res, r.err
	}
	var out any
	var err error
	if g.Breaker != nil {
		out, err = g.Breaker.Execute(call)
	} else {
		out, err = call()
	}
	observability.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	res, _ := out.(domain.SendResult)
	if res.Provider == "" {
		res.Provider = name
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.ProviderSend.WithLabelValues(name, "circuit_open").Inc()
		err = fmt.Errorf("%s circuit open: %w", name, err)
	case errors.Is(err, ErrTimeout):
		observability.ProviderSend.WithLabelValues(name, "timeout").Inc()
	case err != nil:
		observability.ProviderSend.WithLabelValues(name, "error").Inc()
	case !res.Success:
		observability.ProviderSend.WithLabelValues(name, "rejected").Inc()
	default:
		observability.ProviderSend.WithLabelValues(name, "ok").Inc()
	}
	if err != nil || !res.Success {
		span.SetStatus(codes.Error, res.Error)
		if err != nil {
			span.RecordError(err)
		}
	}
	return res, err
}

// call runs the provider in its own goroutine so the timeout holds even if
// the provider blocks. Panics become errors.
func (g *Guard) call(ctx context.Context, msg domain.Message) callResult {
	callCtx := ctx
	cancel := func() {}
	if g.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
	}
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%s panicked: %v", g.Provider.Name(), r)}
			}
		}()
		res, err := g.Provider.Send(callCtx, msg)
		done <- callResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return callResult{err: fmt.Errorf("%w after %s", ErrTimeout, g.Timeout)}
		}
		return callResult{err: callCtx.Err()}
	}
}
