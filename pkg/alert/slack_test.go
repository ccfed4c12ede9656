package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAlerter(t *testing.T) (*Alerter, *[]string) {
	t.Helper()

	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		received = append(received, payload["text"])
	}))
	t.Cleanup(srv.Close)

	a := New(zap.NewNop(), srv.URL, 2*time.Second, 10*time.Second)
	return a, &received
}

func TestCheckDurationWithinBounds(t *testing.T) {
	a, received := newTestAlerter(t)

	a.CheckDuration(5 * time.Second)
	require.Empty(t, *received)
}

func TestCheckDurationTooFast(t *testing.T) {
	a, received := newTestAlerter(t)

	a.CheckDuration(500 * time.Millisecond)
	require.Len(t, *received, 1)
	require.Contains(t, (*received)[0], "less than the minimum")
}

func TestCheckDurationTooSlow(t *testing.T) {
	a, received := newTestAlerter(t)

	a.CheckDuration(30 * time.Second)
	require.Len(t, *received, 1)
	require.Contains(t, (*received)[0], "more than the maximum")
}

func TestSendDisabledWithoutWebhook(t *testing.T) {
	a := New(zap.NewNop(), "", time.Second, time.Minute)

	// Must not panic or attempt any request.
	a.Send("ignored")
}

func TestSendSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	a := New(zap.NewNop(), srv.URL, time.Second, time.Minute)
	a.Send("boom")
}
