// Copyright 2026 fanjia1024

package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-gateway/pkg/log"
)

func TestDeliverPostsPayload(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(map[string]EndpointConfig{
		"matrix": {URL: srv.URL, AuthToken: "sekrit"},
	}, log.Nop())

	err := w.Deliver(context.Background(), "matrix", "!room:example.org", "job finished")
	require.NoError(t, err)
	assert.Equal(t, "!room:example.org", got["to"])
	assert.Equal(t, "job finished", got["text"])
	assert.Equal(t, "Bearer sekrit", auth)
}

func TestDeliverUnknownChannel(t *testing.T) {
	w := NewWebhook(nil, log.Nop())
	err := w.Deliver(context.Background(), "pigeon", "roof", "coo")
	assert.Error(t, err)
}

func TestDeliverReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(map[string]EndpointConfig{
		"matrix": {URL: srv.URL},
	}, log.Nop())

	err := w.Deliver(context.Background(), "matrix", "x", "y")
	assert.ErrorContains(t, err, "502")
}
