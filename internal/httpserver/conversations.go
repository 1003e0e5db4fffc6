package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"comms/internal/conversation"
	"comms/internal/domain"
)

func (a *API) registerConversations(mux *mux.Router) {
	mux.HandleFunc("/v1/conversations", a.handleCreateConversation).Methods(http.MethodPost)
	mux.HandleFunc("/v1/conversations/thread", a.handleThread).Methods(http.MethodPost)
	mux.HandleFunc("/v1/conversations/{id}/messages", a.handleListMessages).Methods(http.MethodGet)
	mux.HandleFunc("/v1/conversations/{id}/messages", a.handleConversationSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/conversations/{id}/participants", a.handleAddParticipant).Methods(http.MethodPost)
	mux.HandleFunc("/v1/conversations/{id}/read", a.handleMarkRead).Methods(http.MethodPost)
	mux.HandleFunc("/v1/conversations/{id}/unread", a.handleUnread).Methods(http.MethodGet)
	mux.HandleFunc("/v1/conversations/{id}/{action:close|archive|reopen}", a.handleLifecycle).Methods(http.MethodPost)
}

type createConversationBody struct {
	Kind           domain.ConversationKind `json:"kind"`
	Subject        string                  `json:"subject"`
	Members        []conversation.Member   `json:"members"`
	Related        *domain.RelatedRef      `json:"related,omitempty"`
	PrimaryChannel domain.Channel          `json:"primaryChannel"`
	CreatedBy      string                  `json:"createdBy"`
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationBody
	if !decode(w, r, &req) {
		return
	}
	mgr := a.Engine.Conversations

	if req.Kind == domain.KindGroup {
		ids := make([]string, 0, len(req.Members))
		for _, m := range req.Members {
			ids = append(ids, m.PersonID)
		}
		conv, err := mgr.CreateGroup(r.Context(), req.Subject, req.CreatedBy, ids)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
		return
	}

	if !req.Related.Empty() {
		conv, created, err := mgr.GetOrCreateForRelated(r.Context(), *req.Related, req.Members, req.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, conv)
		return
	}

	conv, err := mgr.Create(r.Context(), conversation.CreateRequest{
		Subject:        req.Subject,
		Members:        req.Members,
		PrimaryChannel: req.PrimaryChannel,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type threadBody struct {
	FromAddress string             `json:"fromAddress"`
	Subject     string             `json:"subject"`
	ThreadID    string             `json:"threadId"`
	SenderID    string             `json:"senderId"`
	Channel     domain.Channel     `json:"channel"`
	Related     *domain.RelatedRef `json:"related,omitempty"`
}

func (a *API) handleThread(w http.ResponseWriter, r *http.Request) {
	var req threadBody
	if !decode(w, r, &req) {
		return
	}
	conv, created, err := a.Engine.Conversations.FindOrCreateByThread(r.Context(), conversation.ThreadRequest{
		FromAddress: req.FromAddress,
		Subject:     req.Subject,
		ThreadID:    req.ThreadID,
		SenderID:    req.SenderID,
		Channel:     req.Channel,
		Related:     req.Related,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "created": created})
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	before, err := parseTime(q.Get("before"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, err := a.Engine.Conversations.Messages(r.Context(), mux.Vars(r)["id"], limit, before)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type conversationSendBody struct {
	SenderID  string           `json:"senderId"`
	Subject   string           `json:"subject"`
	BodyText  string           `json:"bodyText"`
	BodyHTML  string           `json:"bodyHtml"`
	Channel   string           `json:"channel"`
	Direction domain.Direction `json:"direction"`
}

func (a *API) handleConversationSend(w http.ResponseWriter, r *http.Request) {
	var req conversationSendBody
	if !decode(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		http.Error(w, "senderId is required", http.StatusBadRequest)
		return
	}
	msg, err := a.Engine.Conversations.SendInConversation(r.Context(), conversation.SendRequest{
		ConversationID: mux.Vars(r)["id"],
		SenderID:       req.SenderID,
		Subject:        req.Subject,
		BodyText:       req.BodyText,
		BodyHTML:       req.BodyHTML,
		Channel:        req.Channel,
		Direction:      req.Direction,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type participantBody struct {
	PersonID string      `json:"personId"`
	Role     domain.Role `json:"role"`
	// ActorID turns the request into a group invite on the actor's behalf.
	ActorID string `json:"actorId"`
}

func (a *API) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantBody
	if !decode(w, r, &req) {
		return
	}
	if req.PersonID == "" {
		http.Error(w, "personId is required", http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	var (
		p   domain.Participant
		err error
	)
	if req.ActorID != "" {
		p, err = a.Engine.Conversations.Invite(r.Context(), id, req.ActorID, req.PersonID, req.Role)
	} else {
		p, err = a.Engine.Conversations.EnsureParticipant(r.Context(), id, req.PersonID, req.Role)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type readBody struct {
	PersonID string `json:"personId"`
	At       string `json:"at"`
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req readBody
	if !decode(w, r, &req) {
		return
	}
	at, err := parseTime(req.At)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.Engine.Conversations.MarkRead(r.Context(), mux.Vars(r)["id"], req.PersonID, at); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnread(w http.ResponseWriter, r *http.Request) {
	person := r.URL.Query().Get("personId")
	if person == "" {
		http.Error(w, "personId is required", http.StatusBadRequest)
		return
	}
	n, err := a.Engine.Conversations.UnreadCount(r.Context(), mux.Vars(r)["id"], person)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

type lifecycleBody struct {
	ActorID string `json:"actorId"`
}

func (a *API) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleBody
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	mgr := a.Engine.Conversations
	var (
		conv domain.Conversation
		err  error
	)
	switch vars["action"] {
	case "close":
		conv, err = mgr.Close(r.Context(), vars["id"], req.ActorID)
	case "archive":
		conv, err = mgr.Archive(r.Context(), vars["id"], req.ActorID)
	case "reopen":
		conv, err = mgr.Reopen(r.Context(), vars["id"], req.ActorID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
