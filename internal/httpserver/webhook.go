package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"comms/internal/domain"
	"comms/internal/providers/twilio"
	sqsqueue "comms/internal/queue/sqs"
	"comms/internal/util"
)

// StatusApplier is the ledger's delivery-confirmation entry point.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, provider, providerMessageID, status, detail string) (domain.Message, bool, error)
}

type DeliveryQueue interface {
	EnqueueDelivery(ctx context.Context, ev sqsqueue.DeliveryEvent) error
}

// Webhook receives Twilio status callbacks. With Queue set, callbacks are
// forwarded to the delivery processor; otherwise they are applied inline.
type Webhook struct {
	Ledger    StatusApplier
	Queue     DeliveryQueue
	AuthToken string
	PublicURL string
}

func (w *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/twilio/status", w.handleTwilioStatus).Methods(http.MethodPost)
}

func (w *Webhook) handleTwilioStatus(rw http.ResponseWriter, r *http.Request) {
	cb, ok, err := twilio.ParseStatusCallback(r, w.AuthToken, w.PublicURL)
	if err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}
	if cb.MessageSid == "" {
		http.Error(rw, ErrMissingID, http.StatusBadRequest)
		return
	}

	if w.Queue != nil {
		if err := w.Queue.EnqueueDelivery(r.Context(), sqsqueue.DeliveryEvent{
			Provider:      twilio.Name,
			ProviderMsgID: cb.MessageSid,
			Status:        cb.MessageStatus,
			Detail:        cb.ErrorCode,
			ReceivedAt:    util.NowUTC(),
		}); err != nil {
			slog.ErrorContext(r.Context(), "enqueue delivery event failed", "message_sid", cb.MessageSid, "status", cb.MessageStatus, "err", err)
			http.Error(rw, ErrDependency, http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusOK)
		return
	}

	msg, changed, err := w.Ledger.ApplyProviderStatus(r.Context(), twilio.Name, cb.MessageSid, cb.MessageStatus, cb.ErrorCode)
	switch {
	case statusFor(err) == http.StatusNotFound:
		// Acknowledged so Twilio stops retrying.
		slog.WarnContext(r.Context(), "status callback for unknown message", "message_sid", cb.MessageSid)
	case err != nil:
		slog.ErrorContext(r.Context(), "apply provider status failed", "message_sid", cb.MessageSid, "status", cb.MessageStatus, "err", err)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	case changed:
		slog.InfoContext(r.Context(), "delivery status applied", "message_id", msg.ID, "provider", twilio.Name, "status", msg.Status)
	}
	rw.WriteHeader(http.StatusOK)
}
