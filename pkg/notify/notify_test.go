package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/faceignition/pkg/logging"
)

func init() {
	logging.Discard()
}

func TestSMSNotifier_PostsForm(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"error":false}`))
	}))
	defer server.Close()

	n := NewSMSNotifier(SMSConfig{
		Endpoint:  server.URL,
		AuthToken: "token-123",
		Recipient: "9800000000",
		PublicURL: "http://car.local:5000/",
	})

	require.NoError(t, n.Notify(context.Background(), UnauthorizedAttempt))
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "token-123", got.PostForm.Get("auth_token"))
	assert.Equal(t, "9800000000", got.PostForm.Get("to"))

	text := got.PostForm.Get("text")
	assert.Contains(t, text, "http://car.local:5000/captured_image")
	assert.Contains(t, text, "http://car.local:5000/authorize")
}

func TestSMSNotifier_Non200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer server.Close()

	n := NewSMSNotifier(SMSConfig{Endpoint: server.URL})
	err := n.Notify(context.Background(), VehicleStarted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid token")
}

func TestSMSNotifier_TransportError(t *testing.T) {
	n := NewSMSNotifier(SMSConfig{Endpoint: "http://gateway.invalid"})
	n.client = doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	err := n.Notify(context.Background(), VehicleStarted)
	assert.ErrorContains(t, err, "connection refused")
}

func TestSMSNotifier_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	n := NewSMSNotifier(SMSConfig{Endpoint: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, n.Notify(ctx, VehicleStarted))
}

func TestMessage(t *testing.T) {
	n := NewSMSNotifier(SMSConfig{PublicURL: "http://192.168.1.10:5000"})

	started := n.Message(VehicleStarted)
	assert.True(t, strings.HasPrefix(started, "Vehicle Start Detected!"))
	assert.Contains(t, started, "http://192.168.1.10:5000")

	alert := n.Message(UnauthorizedAttempt)
	assert.Contains(t, alert, "http://192.168.1.10:5000/captured_image")
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "vehicle_started", VehicleStarted.String())
	assert.Equal(t, "unauthorized_attempt", UnauthorizedAttempt.String())
	assert.Equal(t, "event(7)", Event(7).String())
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), VehicleStarted))
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
