package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_messages_total", Help: "Message status transitions"},
		[]string{"channel", "status"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_provider_send_total", Help: "Provider send outcomes"},
		[]string{"provider", "result"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "comms_provider_send_latency_seconds", Help: "Provider send latency"},
		[]string{"provider"},
	)
	PushDeactivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_push_deactivations_total", Help: "Push endpoints deactivated"},
		[]string{"reason"},
	)
	Fallback = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_fallback_total", Help: "Channel used by notify"},
		[]string{"channel"},
	)
	OrchestratorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_orchestrator_outcomes_total", Help: "Per-template orchestration outcomes"},
		[]string{"outcome"},
	)
	AuditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_audit_events_total", Help: "Audit events by result"},
		[]string{"result"},
	)
	DeliveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "comms_delivery_events_total", Help: "Provider delivery events"},
		[]string{"provider", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Messages, ProviderSend, ProviderLatency, PushDeactivations,
		Fallback, OrchestratorOutcomes, AuditEvents, DeliveryEvents)
}
