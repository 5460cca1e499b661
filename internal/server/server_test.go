package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/weftworks/weft/internal/catalog"
	"github.com/weftworks/weft/internal/engine"
	"github.com/weftworks/weft/internal/server"
	"github.com/weftworks/weft/internal/store"
	"github.com/weftworks/weft/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, st *store.Store) *server.Server {
	reg := catalog.NewRegistry()
	assert.NoError(t, reg.Register(&api.Definition{
		Type:          "greet",
		Name:          "Greet",
		ExecutionCode: `return { body = { greeting = "hello" } }`,
	}))
	eng := engine.New(reg, nil)
	return server.NewServer(eng, reg, st)
}

func doJSON(
	t *testing.T, router *gin.Engine, method, path string, body any,
) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func greetWorkflow() *api.Workflow {
	return &api.Workflow{
		ID: "wf-greet",
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeTypeTrigger},
			{ID: "greet", Type: "greet"},
		},
		Connections: []*api.Connection{
			{ID: "c1", Source: "start", Target: "greet"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	router := newTestServer(t, nil).SetupRoutes()

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp api.HealthResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Service)
}

func TestDefinitionEndpoints(t *testing.T) {
	router := newTestServer(t, nil).SetupRoutes()

	w := doJSON(t, router, http.MethodGet, "/definitions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list api.DefinitionListResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, list.Count, len(list.Definitions))
	assert.GreaterOrEqual(t, list.Count, 6)

	w = doJSON(t, router, http.MethodPost, "/definitions",
		&api.Definition{Type: "send-email", Name: "Send Email"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/definitions/send-email", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/definitions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a definition without a type is rejected
	w = doJSON(t, router, http.MethodPost, "/definitions",
		&api.Definition{Name: "No Type"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRun(t *testing.T) {
	router := newTestServer(t, nil).SetupRoutes()

	w := doJSON(t, router, http.MethodPost, "/executions", &api.RunRequest{
		Workflow: greetWorkflow(),
		Input: map[string]any{
			"body": map[string]any{"name": "ada"},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp api.RunResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 2, resp.Stats.Succeeded)
	assert.Zero(t, resp.Stats.Failed)
	assert.Contains(t, resp.Records, "greet")
	assert.Equal(t, api.StatusSuccess, resp.Records["greet"].Status)
}

func TestStartRunInvalid(t *testing.T) {
	router := newTestServer(t, nil).SetupRoutes()

	w := doJSON(t, router, http.MethodPost, "/executions",
		&api.RunRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/executions", &api.RunRequest{
		Workflow: &api.Workflow{ID: "empty"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunPersistence(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.New(store.Config{Addr: mr.Addr(), Prefix: "weft-test"})
	t.Cleanup(func() { _ = st.Close() })

	router := newTestServer(t, st).SetupRoutes()

	w := doJSON(t, router, http.MethodPost, "/executions", &api.RunRequest{
		Workflow: greetWorkflow(),
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp api.RunResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(t, router, http.MethodGet, "/executions/"+resp.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var run api.StoredRun
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, resp.RunID, run.Stats.RunID)
	assert.Len(t, run.Records, 2)

	w = doJSON(t, router, http.MethodGet, "/executions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list api.RunListResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []string{resp.RunID}, list.Runs)
}

func TestRunEndpointsWithoutStore(t *testing.T) {
	router := newTestServer(t, nil).SetupRoutes()

	w := doJSON(t, router, http.MethodGet, "/executions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, router, http.MethodGet, "/executions/run-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// a server-wide shutdown can race the client's own teardown; closing
	// the same client repeatedly must not panic
	assert.NotPanics(t, func() {
		srv.CloseWebSockets()
		srv.CloseWebSockets()
	})
}

func TestWebSocketEventStream(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()
	defer srv.CloseWebSockets()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// run a workflow over HTTP and observe its event stream
	time.Sleep(50 * time.Millisecond)
	body, err := json.Marshal(&api.RunRequest{Workflow: greetWorkflow()})
	assert.NoError(t, err)
	resp, err := http.Post(
		ts.URL+"/executions", "application/json", bytes.NewReader(body),
	)
	assert.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	seen := map[api.EventType]bool{}
	for !seen[api.EventTypeWorkflowEnded] {
		assert.NoError(t, ctx.Err())
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))

		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("event stream ended early: %v", err)
		}
		seen[ev.Type] = true
	}

	assert.True(t, seen[api.EventTypeNodeStarted])
	assert.True(t, seen[api.EventTypeNodeCompleted])
	assert.True(t, seen[api.EventTypeEdgeTraversed])
}
