// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayd/internal/abuse"
	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/realtime"
	"github.com/relayforge/relayd/internal/stats"
	"github.com/relayforge/relayd/internal/store"
	"github.com/relayforge/relayd/internal/websocket"
)

const testSecret = "0123456789abcdef0123456789abcdef"

//nolint:gochecknoinits // silence logging during tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type testServer struct {
	srv    *Server
	http   *httptest.Server
	memory *store.Memory
	index  *realtime.Index
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	memory := store.NewMemory()
	memory.AddProject(&store.Project{ID: "console", TeamID: "console-team"})
	memory.AddProject(&store.Project{
		ID:     "p1",
		TeamID: "t1",
		Platforms: []store.Platform{
			{Type: "web", Hostname: "app.example.com"},
		},
	})

	index := realtime.NewIndex()
	verifier := store.NewSessionVerifier(testSecret)
	hub := websocket.NewHub(websocket.Config{
		Index:          index,
		Table:          stats.NewTable(),
		Users:          memory,
		Verifier:       verifier,
		ConnectLimiter: abuse.NewLimiter("url:{url},ip:{ip}", 128, time.Minute, true, 0),
		MessageLimiter: abuse.NewLimiter("url:{url},connection:{connection}", 32, time.Minute, true, 0),
		ConsoleProject: "console",
		MaxMessageSize: 64 * 1024,
		SendBuffer:     16,
	})

	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, hub, memory, memory, verifier)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, http: ts, memory: memory, index: index}
}

func (ts *testServer) dial(t *testing.T, query string) (*gorilla.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/realtime?" + query
	header := http.Header{"Origin": []string{"https://app.example.com"}}
	return gorilla.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, conn *gorilla.Conn) websocket.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame websocket.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestRealtimeHandshake(t *testing.T) {
	ts := newTestServer(t)

	conn, resp, err := ts.dial(t, "project=p1&channels[]=documents&channels[]=account")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	frame := readFrame(t, conn)
	assert.Equal(t, websocket.FrameConnected, frame.Type)

	data, ok := frame.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"account", "documents"}, data["channels"])
	assert.Nil(t, data["user"])
}

func TestRealtimeHandshakeWithSession(t *testing.T) {
	ts := newTestServer(t)

	verifier := store.NewSessionVerifier(testSecret)
	ts.memory.AddUser("p1", &store.User{
		ID:       "42",
		Name:     "Reader",
		Sessions: []store.Session{{ID: "s1", Expire: time.Now().Add(time.Hour)}},
	})
	token, err := verifier.IssueToken("42", "s1", time.Hour)
	require.NoError(t, err)

	conn, _, err := ts.dial(t, "project=p1&channels[]=account&session="+token)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, websocket.FrameConnected, frame.Type)

	data := frame.Data.(map[string]interface{})
	user, ok := data["user"].(map[string]interface{})
	require.True(t, ok, "authenticated connect must echo the account")
	assert.Equal(t, "42", user["$id"])
}

func TestRealtimeRejectsMissingChannels(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := ts.dial(t, "project=p1")
	require.NoError(t, err, "rejection happens over the socket, not at upgrade")
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, websocket.FrameError, frame.Type)
	data := frame.Data.(map[string]interface{})
	assert.Equal(t, float64(realtime.CodePolicyViolation), data["code"])

	// The server follows the error frame with a close frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *gorilla.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, realtime.CodePolicyViolation, closeErr.Code)
}

func TestRealtimeUnknownProject(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := ts.dial(t, "project=nope&channels[]=documents")
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, websocket.FrameError, frame.Type)
	data := frame.Data.(map[string]interface{})
	assert.Equal(t, float64(realtime.CodePolicyViolation), data["code"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relayd_")
}
