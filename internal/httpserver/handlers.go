package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"comms/internal/domain"
	"comms/internal/engine"
	"comms/internal/messaging"
	"comms/internal/notify"
	"comms/internal/orchestrator"
	sqsqueue "comms/internal/queue/sqs"
	"comms/internal/util"
)

// EventQueue accepts events for asynchronous orchestration.
type EventQueue interface {
	EnqueueEvent(ctx context.Context, job sqsqueue.EventJob) error
}

type API struct {
	Engine *engine.Engine
	// Events is optional; without it async events are rejected.
	Events EventQueue
	IDGen  func() string
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/messages", a.handleSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
	mux.HandleFunc("/v1/messages/{id}/delivered", a.handleDelivered).Methods(http.MethodPost)
	mux.HandleFunc("/v1/notifications", a.handleNotify).Methods(http.MethodPost)
	mux.HandleFunc("/v1/recipients/{id}/notification-status", a.handleNotificationStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/events", a.handleEvent).Methods(http.MethodPost)
	a.registerConversations(mux)
}

type sendBody struct {
	RecipientID    string             `json:"recipientId"`
	Recipient      *domain.Recipient  `json:"recipient,omitempty"`
	TemplateKey    string             `json:"templateKey"`
	Context        map[string]any     `json:"context"`
	Channel        string             `json:"channel"`
	MessageType    domain.MessageType `json:"messageType"`
	Subject        string             `json:"subject"`
	BodyText       string             `json:"bodyText"`
	BodyHTML       string             `json:"bodyHtml"`
	ToAddress      string             `json:"toAddress"`
	Related        *domain.RelatedRef `json:"related,omitempty"`
	ConversationID string             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	Profile        string             `json:"profile"`
	Locale         string             `json:"locale"`
}

type sendFailure struct {
	Error   string          `json:"error"`
	Message *domain.Message `json:"message,omitempty"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendBody
	if !decode(w, r, &req) {
		return
	}
	if req.RecipientID == "" && req.Recipient == nil {
		http.Error(w, "recipientId is required", http.StatusBadRequest)
		return
	}

	msg, err := a.Engine.Messages.Send(r.Context(), messaging.SendRequest{
		RecipientID:    req.RecipientID,
		Recipient:      req.Recipient,
		TemplateKey:    req.TemplateKey,
		Context:        req.Context,
		Channel:        req.Channel,
		MessageType:    req.MessageType,
		Subject:        req.Subject,
		BodyText:       req.BodyText,
		BodyHTML:       req.BodyHTML,
		ToAddress:      req.ToAddress,
		Related:        req.Related,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Profile:        req.Profile,
		Locale:         req.Locale,
	})
	if err != nil {
		// A recorded failure is returned with its row so callers can follow up.
		if msg.ID != "" {
			slog.WarnContext(r.Context(), "send failed", "message_id", msg.ID, "channel", msg.Channel, "err", err)
			writeJSON(w, statusFor(err), sendFailure{Error: err.Error(), Message: &msg})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, err := a.Engine.Store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleDelivered(w http.ResponseWriter, r *http.Request) {
	msg, err := a.Engine.Ledger.MarkDelivered(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type notifyBody struct {
	RecipientID    string             `json:"recipientId"`
	Subject        string             `json:"subject"`
	BodyText       string             `json:"bodyText"`
	BodyHTML       string             `json:"bodyHtml"`
	ConversationID string             `json:"conversationId"`
	Related        *domain.RelatedRef `json:"related,omitempty"`
}

type notifyResult struct {
	Channel string          `json:"channel"`
	Message *domain.Message `json:"message"`
}

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyBody
	if !decode(w, r, &req) {
		return
	}
	if req.RecipientID == "" {
		http.Error(w, "recipientId is required", http.StatusBadRequest)
		return
	}
	msg, ch, err := a.Engine.Notifier.Notify(r.Context(), notify.Request{
		RecipientID:    req.RecipientID,
		Subject:        req.Subject,
		BodyText:       req.BodyText,
		BodyHTML:       req.BodyHTML,
		ConversationID: req.ConversationID,
		Related:        req.Related,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notifyResult{Channel: ch, Message: msg})
}

func (a *API) handleNotificationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.Engine.Notifier.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type eventBody struct {
	EventType      string         `json:"eventType"`
	SubjectID      string         `json:"subjectId"`
	ActorID        string         `json:"actorId"`
	ConversationID string         `json:"conversationId"`
	Context        map[string]any `json:"context"`
	Async          bool           `json:"async"`
}

type outcomeView struct {
	Kind        domain.OutcomeKind `json:"kind"`
	TemplateKey string             `json:"templateKey"`
	Channel     domain.Channel     `json:"channel,omitempty"`
	Message     *domain.Message    `json:"message,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventBody
	if !decode(w, r, &req) {
		return
	}
	if req.EventType == "" || req.SubjectID == "" {
		http.Error(w, "eventType and subjectId are required", http.StatusBadRequest)
		return
	}

	if req.Async {
		if a.Events == nil {
			http.Error(w, ErrQueueDisabled, http.StatusServiceUnavailable)
			return
		}
		job := sqsqueue.EventJob{
			JobID:          a.newID(),
			EventType:      req.EventType,
			RecipientID:    req.SubjectID,
			ActorID:        req.ActorID,
			ConversationID: req.ConversationID,
			Context:        req.Context,
			EnqueuedAt:     util.NowUTC(),
		}
		if err := a.Events.EnqueueEvent(r.Context(), job); err != nil {
			slog.ErrorContext(r.Context(), "enqueue event failed", "event_type", req.EventType, "err", err)
			http.Error(w, ErrDependency, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.JobID})
		return
	}

	outcomes, err := a.Engine.Orchestrator.OrchestrateOutcomes(r.Context(), orchestrator.Event{
		Type:           req.EventType,
		SubjectID:      req.SubjectID,
		ActorID:        req.ActorID,
		Context:        req.Context,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		v := outcomeView{Kind: o.Kind, TemplateKey: o.TemplateKey, Channel: o.Channel, Message: o.Message, Reason: o.Reason}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": views})
}

func (a *API) newID() string {
	if a.IDGen != nil {
		return a.IDGen()
	}
	return util.NewID(util.PrefixJob)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.New("time must be RFC3339")
	}
	return &t, nil
}
