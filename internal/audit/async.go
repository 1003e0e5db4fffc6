package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"comms/internal/observability"
)

const writeTimeout = 5 * time.Second

// Async buffers events and forwards them to every sink from one goroutine.
// A full buffer drops the event.
type Async struct {
	sinks []Sink
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

func NewAsync(buffer int, sinks ...Sink) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{sinks: sinks, ch: make(chan Event, buffer), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *Async) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case a.ch <- ev:
	default:
		observability.AuditEvents.WithLabelValues("dropped").Inc()
		slog.WarnContext(ctx, "audit buffer full, event dropped", "type", ev.Type, "message_id", ev.MessageID)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (a *Async) Close() {
	a.once.Do(func() { close(a.ch) })
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		for _, s := range a.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := s.Write(ctx, ev)
			cancel()
			if err != nil {
				observability.AuditEvents.WithLabelValues("error").Inc()
				slog.Warn("audit sink failed", "type", ev.Type, "err", err)
				continue
			}
			observability.AuditEvents.WithLabelValues("written").Inc()
		}
	}
}

// Recorder keeps events in memory. Tests use it to assert on the trail.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
