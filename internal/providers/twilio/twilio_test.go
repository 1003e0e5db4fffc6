package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/domain"
)

func TestSendSMSPostsForm(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "tok", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	c := &Client{AccountSID: "AC1", AuthToken: "tok", HTTP: srv.Client(), BaseURL: srv.URL, FromNumber: "+15550000000"}
	p := &Provider{Client: c, StatusCallbackURL: "https://hooks.example.com/twilio"}

	res, err := p.Send(context.Background(), domain.Message{ToAddress: "+1 555 123 4567", BodyText: "hello", FromAddress: "+15559999999"})
	require.NoError(t, err)
	assert.Equal(t, domain.SendResult{Success: true, Provider: "twilio", ProviderMessageID: "SM1"}, res)
	assert.Equal(t, "+15551234567", got.Get("To"))
	assert.Equal(t, "+15559999999", got.Get("From"))
	assert.Equal(t, "https://hooks.example.com/twilio", got.Get("StatusCallback"))
}

func TestSendRejectionIsFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	p := &Provider{Client: &Client{AccountSID: "AC1", HTTP: srv.Client(), BaseURL: srv.URL}}
	res, err := p.Send(context.Background(), domain.Message{ToAddress: "+15551234567", BodyText: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not a valid phone number")
}

func TestSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &Provider{Client: &Client{AccountSID: "AC1", HTTP: srv.Client(), BaseURL: srv.URL}}
	_, err := p.Send(context.Background(), domain.Message{ToAddress: "+15551234567", BodyText: "x"})
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusServiceUnavailable, ce.HTTPStatus)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(errors.New("conn reset"), 0))
	assert.True(t, Transient(errors.New("x"), 429))
	assert.True(t, Transient(errors.New("x"), 502))
	assert.False(t, Transient(errors.New("x"), 400))
}

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	publicURL := "https://hooks.example.com/v1/webhooks/twilio/status"

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", Signature("tok", publicURL, form))

	cb, ok, err := ParseStatusCallback(req, "tok", publicURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCallback{MessageSid: "SM1", MessageStatus: "delivered"}, cb)

	bad := httptest.NewRequest(http.MethodPost, "/v1/webhooks/twilio/status", strings.NewReader(form.Encode()))
	bad.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	bad.Header.Set("X-Twilio-Signature", "nope")
	_, ok, err = ParseStatusCallback(bad, "tok", publicURL)
	require.NoError(t, err)
	assert.False(t, ok)
}
