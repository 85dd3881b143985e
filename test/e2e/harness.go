// Package e2e exercises the full stack: a real vault on disk, the
// scheduler, and the HTTP API, with a scriptable LLM where a scenario
// needs agent turns.
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/api"
	"github.com/colonyforge/hiveforge/pkg/config"
	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/scheduler"
)

// Env is one end-to-end test environment: vault, scheduler, and HTTP
// server, all torn down with the test.
type Env struct {
	t      *testing.T
	Store  *akashic.Store
	Sched  *scheduler.Scheduler
	Server *api.Server
	HTTP   *httptest.Server
}

// NewEnv builds an environment over a fresh temp vault.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sched := scheduler.New(store, scheduler.Options{
		SilenceTimeout: time.Minute,
		ShutdownBudget: 5 * time.Second,
	})

	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1"}}
	server := api.NewServer(cfg, sched, api.NewConnectionManager(time.Second))
	httpSrv := httptest.NewServer(server.Handler())
	t.Cleanup(httpSrv.Close)

	return &Env{t: t, Store: store, Sched: sched, Server: server, HTTP: httpSrv}
}

// Post issues a JSON POST and decodes the body into out when non-nil.
func (env *Env) Post(path string, body any, out any) int {
	env.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(env.t, err)
	resp, err := http.Post(env.HTTP.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(env.t, err)
	return env.decode(resp, out)
}

// Get issues a GET and decodes the body into out when non-nil.
func (env *Env) Get(path string, out any) int {
	env.t.Helper()
	resp, err := http.Get(env.HTTP.URL + path)
	require.NoError(env.t, err)
	return env.decode(resp, out)
}

func (env *Env) decode(resp *http.Response, out any) int {
	env.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(env.t, err)
	if out != nil {
		require.NoError(env.t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

// Events replays a stream and returns all its events.
func (env *Env) Events(streamID string) []*event.Event {
	env.t.Helper()
	events, err := env.Store.ReplayAll(streamID)
	require.NoError(env.t, err)
	return events
}

// EventTypes lists the type of every event in stream order.
func (env *Env) EventTypes(streamID string) []event.Type {
	env.t.Helper()
	events := env.Events(streamID)
	types := make([]event.Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// created is the minimal creation acknowledgement shape.
type created struct {
	ID       string `json:"id"`
	ColonyID string `json:"colony_id"`
	HiveID   string `json:"hive_id"`
}

// indexOf returns the position of the first event of type t, or -1.
func indexOf(types []event.Type, t event.Type) int {
	for i, got := range types {
		if got == t {
			return i
		}
	}
	return -1
}
