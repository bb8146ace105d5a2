package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender_SignsPayload(t *testing.T) {
	var gotBody []byte
	var gotTS, gotSig string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotSig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewWebhookSender(ts.URL, "relay-secret")
	err := s.Send(context.Background(), Message{UserID: "usr_farmer", Subject: "Rain alert", Body: "Heavy rain tonight"})
	require.NoError(t, err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, "usr_farmer", p["userId"])
	assert.Equal(t, "Rain alert", p["subject"])
	assert.NotEmpty(t, gotTS)
	assert.Equal(t, Sign("relay-secret", gotTS, gotBody), gotSig)
}

func TestWebhookSender_Unsigned(t *testing.T) {
	var gotSig string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
	}))
	defer ts.Close()

	require.NoError(t, NewWebhookSender(ts.URL, "").Send(context.Background(), Message{UserID: "usr_a"}))
	assert.Empty(t, gotSig)
}

func TestWebhookSender_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	d, err := NewDispatcher(NewWebhookSender(ts.URL, "s"), 1, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	defer d.Close(time.Second)

	rejected := counter(t, "rejected")
	d.Notify(context.Background(), "usr_a", "x", "y")
	require.Eventually(t, func() bool { return counter(t, "rejected") == rejected+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookSender_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer ts.Close()

	d, err := NewDispatcher(NewWebhookSender(ts.URL, ""), 1, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	defer d.Close(time.Second)

	d.Notify(context.Background(), "usr_a", "x", "y")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
