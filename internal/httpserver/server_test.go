package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/engine"
	"comms/internal/providers/fake"
	"comms/internal/providers/twilio"
	sqsqueue "comms/internal/queue/sqs"
	"comms/internal/store/memory"
)

type fakeEvents struct {
	mu   sync.Mutex
	jobs []sqsqueue.EventJob
}

func (f *fakeEvents) EnqueueEvent(_ context.Context, job sqsqueue.EventJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

type fixture struct {
	h      http.Handler
	store  *memory.Store
	api    *API
	events *fakeEvents
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	reg, _ := fake.Registry(domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp)
	e := engine.New(engine.Deps{Store: st, Registry: reg, Settings: config.DefaultSettings()})

	for _, r := range []domain.Recipient{
		{ID: "ana", Name: "Ana", Email: "ana@example.com"},
		{ID: "sam", Name: "Sam", Email: "sam@example.com", Staff: true},
		{ID: "bo", Name: "Bo", Phone: "+15551234567"},
	} {
		require.NoError(t, st.SaveRecipient(ctx, r))
	}
	require.NoError(t, st.SaveTemplate(ctx, domain.Template{
		ID: "tpl_booking", Key: "booking_confirmed", EventType: "booking.confirmed", IsActive: true,
		EmailSubject: "Booking {{.ref}}", EmailBodyText: "Confirmed {{.ref}}",
	}))

	srv := New()
	api := &API{Engine: e}
	api.Register(srv.Mux)
	(&Webhook{Ledger: e.Ledger, AuthToken: "tok", PublicURL: "https://hooks.example.com/v1/webhooks/twilio/status"}).Register(srv.Mux)
	return fixture{h: srv.Mux, store: st, api: api, events: &fakeEvents{}}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/messages", map[string]any{
		"recipientId": "ana", "subject": "Hi", "bodyText": "Hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeBody[domain.Message](t, rec)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, domain.ChannelEmail, msg.Channel)

	rec = f.do(t, http.MethodGet, "/v1/messages/"+msg.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msg.ID, decodeBody[domain.Message](t, rec).ID)

	rec = f.do(t, http.MethodPost, "/v1/messages/"+msg.ID+"/delivered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusDelivered, decodeBody[domain.Message](t, rec).Status)
}

func TestSendErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages", map[string]any{"recipientId": "ana", "channel": "fax", "bodyText": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	failed := decodeBody[sendFailure](t, rec)
	require.NotNil(t, failed.Message)
	assert.Equal(t, domain.StatusFailed, failed.Message.Status)

	rec = f.do(t, http.MethodPost, "/v1/messages", map[string]any{"recipientId": "ana", "templateKey": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/messages/msg_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/messages", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&domain.RecipientError{Reason: "x"}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&domain.ProviderError{Provider: "ses", Cause: errors.New("throttled")}))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrPermissionDenied))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrInvalidState))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestNotifyAndStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/notifications", map[string]any{"recipientId": "bo", "subject": "Hi", "bodyText": "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[notifyResult](t, rec)
	assert.Equal(t, "sms", res.Channel)
	require.NotNil(t, res.Message)

	rec = f.do(t, http.MethodGet, "/v1/recipients/bo/notification-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "sms", st["primary_channel"])
	assert.Equal(t, false, st["email_available"])
}

func TestEventSync(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/events", map[string]any{
		"eventType": "booking.confirmed", "subjectId": "ana", "context": map[string]any{"ref": "BK-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Outcomes []outcomeView `json:"outcomes"`
	}](t, rec)
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, domain.OutcomeSent, body.Outcomes[0].Kind)
	require.NotNil(t, body.Outcomes[0].Message)
	assert.Equal(t, "Booking BK-1", body.Outcomes[0].Message.Subject)
}

func TestEventAsync(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{"eventType": "booking.confirmed", "subjectId": "ana", "async": true}

	rec := f.do(t, http.MethodPost, "/v1/events", payload)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.api.Events = f.events
	f.api.IDGen = func() string { return "job_1" }
	rec = f.do(t, http.MethodPost, "/v1/events", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.events.jobs, 1)
	assert.Equal(t, "job_1", f.events.jobs[0].JobID)
	assert.Equal(t, "ana", f.events.jobs[0].RecipientID)
}

func TestConversationFlow(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/conversations", map[string]any{
		"subject": "Re: Trip",
		"members": []map[string]any{{"personId": "ana", "role": "customer"}, {"personId": "sam", "role": "staff"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decodeBody[domain.Conversation](t, rec)
	base := "/v1/conversations/" + conv.ID

	rec = f.do(t, http.MethodPost, base+"/messages", map[string]any{"senderId": "ana", "bodyText": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, domain.DirectionInbound, decodeBody[domain.Message](t, rec).Direction)

	rec = f.do(t, http.MethodGet, base+"/unread?personId=sam", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[map[string]int](t, rec)["unread"])

	rec = f.do(t, http.MethodPost, base+"/read", map[string]any{"personId": "sam"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, base+"/unread?personId=sam", nil)
	assert.Equal(t, 0, decodeBody[map[string]int](t, rec)["unread"])

	rec = f.do(t, http.MethodGet, base+"/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]domain.Message](t, rec)["messages"], 1)

	rec = f.do(t, http.MethodPost, base+"/close", map[string]any{"actorId": "sam"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ConversationClosed, decodeBody[domain.Conversation](t, rec).Status)

	rec = f.do(t, http.MethodPost, base+"/reopen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ConversationActive, decodeBody[domain.Conversation](t, rec).Status)
}

func TestGroupPermissions(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/conversations", map[string]any{
		"kind": "group", "subject": "Crew", "createdBy": "ana",
		"members": []map[string]any{{"personId": "bo"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decodeBody[domain.Conversation](t, rec)

	rec = f.do(t, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", map[string]any{"senderId": "bo", "bodyText": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/conversations/"+conv.ID+"/participants", map[string]any{"personId": "sam", "actorId": "bo"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestThreadResolution(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"fromAddress": "ana@example.com", "subject": "Re: Dive times", "threadId": "<t1@mail>", "senderId": "ana", "channel": "email"}
	rec := f.do(t, http.MethodPost, "/v1/conversations/thread", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[struct {
		Conversation domain.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}](t, rec)
	assert.True(t, first.Created)
	assert.Equal(t, "Dive times", first.Conversation.NormalizedSubject)

	rec = f.do(t, http.MethodPost, "/v1/conversations/thread", body)
	second := decodeBody[struct {
		Conversation domain.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}](t, rec)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func twilioRequest(t *testing.T, token, publicURL string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", twilio.Signature(token, publicURL, form))
	return req
}

func TestTwilioStatusWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent := time.Now().UTC()
	require.NoError(t, f.store.InsertMessage(ctx, domain.Message{
		ID: "msg_sms", Direction: domain.DirectionOutbound, Channel: domain.ChannelSMS, Status: domain.StatusSent,
		ToAddress: "+15551234567", Provider: twilio.Name, ProviderMessageID: "SM1", SentAt: &sent, CreatedAt: sent, UpdatedAt: sent,
	}))
	publicURL := "https://hooks.example.com/v1/webhooks/twilio/status"
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, twilioRequest(t, "wrong", publicURL, form))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, twilioRequest(t, "tok", publicURL, form))
	require.Equal(t, http.StatusOK, rec.Code)
	m, err := f.store.GetMessage(ctx, "msg_sms")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, m.Status)

	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, twilioRequest(t, "tok", publicURL, url.Values{"MessageSid": {"SM404"}, "MessageStatus": {"delivered"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthProbes(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("db down") }

	srv := New(down, ok, down)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))

	rec = httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body probeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, probeStatus{Status: "not ready", Failed: 2}, body)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "abc")
	New(ok).Mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
