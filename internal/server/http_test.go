package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanolog/datasource/internal/engine"
	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/storage"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// echoSource returns one record per call, stamped with the window start.
var echoSource = engine.LogSourceFunc(func(_ context.Context, _ int, from, to int64, filter string) ([]model.LogRecord, error) {
	if filter == "fail" {
		return nil, errors.New("backend down")
	}
	return []model.LogRecord{{Timestamp: from, Body: filter, ID: "r1"}}, nil
})

func newTestServer(t *testing.T, src engine.LogSource, opts ...Option) *httptest.Server {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	orch := engine.New(src, cfg)

	reg := prometheus.NewRegistry()
	opts = append([]Option{WithGatherer(reg)}, opts...)
	srv := httptest.NewServer(New(orch, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t, echoSource)

	resp := postJSON(t, srv.URL+"/api/query", model.QueryRequest{
		Targets: []model.QueryTarget{{ID: "A", FilterText: "x"}, {ID: "B", FilterText: "y", Hidden: true}},
		Range:   model.TimeRange{From: 10, To: 20},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.QueryResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, model.StateDone, out.State)
	require.Len(t, out.Frames, 1)
	assert.Equal(t, "A", out.Frames[0].TargetID)
	assert.Equal(t, []int64{10}, out.Frames[0].Columns.Timestamp)
	assert.Equal(t, "logs", out.Frames[0].Meta.VisualizationHint)
}

func TestQueryEndpointErrors(t *testing.T) {
	srv := newTestServer(t, echoSource)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"invalid range", model.QueryRequest{Targets: []model.QueryTarget{{ID: "A"}}, Range: model.TimeRange{From: 5, To: 1}}, http.StatusBadRequest},
		{"fetch failure", model.QueryRequest{Targets: []model.QueryTarget{{ID: "A", FilterText: "fail"}}, Range: model.TimeRange{To: 1}}, http.StatusBadGateway},
		{"streaming on query", model.QueryRequest{Streaming: true, Range: model.TimeRange{To: 1}}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/query", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var qerr model.QueryError
			decodeBody(t, resp, &qerr)
			assert.Equal(t, tt.status, qerr.Status)
			assert.NotEmpty(t, qerr.Message)
		})
	}
}

func TestContextEndpoint(t *testing.T) {
	srv := newTestServer(t, echoSource)

	resp := postJSON(t, srv.URL+"/api/context", map[string]interface{}{
		"row":       model.LogRecord{Timestamp: 50_000_000},
		"direction": "backward",
		"target":    model.QueryTarget{ID: "A", FilterText: "x"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out model.QueryResponse
	decodeBody(t, resp, &out)
	require.Len(t, out.Frames, 1)
	assert.Equal(t, "context-A", out.Frames[0].TargetID)
	assert.Equal(t, []int64{50_000_000}, out.Frames[0].Columns.Timestamp)

	noTarget := postJSON(t, srv.URL+"/api/context", map[string]interface{}{
		"row":       model.LogRecord{Timestamp: 1},
		"direction": "forward",
	})
	assert.Equal(t, http.StatusNoContent, noTarget.StatusCode)

	failing := postJSON(t, srv.URL+"/api/context", map[string]interface{}{
		"row":       model.LogRecord{Timestamp: 1},
		"direction": "forward",
		"target":    model.QueryTarget{ID: "A", FilterText: "fail"},
	})
	assert.Equal(t, http.StatusBadGateway, failing.StatusCode)
	var qerr model.QueryError
	decodeBody(t, failing, &qerr)
	assert.Equal(t, "Error during context query. Please check server logs.", qerr.Message)

	badDir := postJSON(t, srv.URL+"/api/context", map[string]interface{}{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, badDir.StatusCode)
}

func TestModifyEndpoint(t *testing.T) {
	srv := newTestServer(t, echoSource)

	resp := postJSON(t, srv.URL+"/api/modify", modifyRequest{
		Target: model.QueryTarget{ID: "A", FilterText: "timeout"},
		Action: model.FilterAction{Type: model.AddFilterOut, Key: "service", Value: "api"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.QueryTarget
	decodeBody(t, resp, &out)
	assert.Equal(t, "timeout service!=api", out.FilterText)
}

func TestHealthEndpoint(t *testing.T) {
	up := newTestServer(t, echoSource, WithPinger(pingFunc(func(context.Context) error { return nil })))
	resp, err := http.Get(up.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ok healthResponse
	decodeBody(t, resp, &ok)
	assert.Equal(t, healthResponse{Status: "success", Message: "Success"}, ok)

	down := newTestServer(t, echoSource, WithPinger(pingFunc(func(context.Context) error { return errors.New("disk gone") })))
	resp, err = http.Get(down.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var bad healthResponse
	decodeBody(t, resp, &bad)
	assert.Equal(t, "error", bad.Status)
	assert.Equal(t, "disk gone", bad.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, echoSource)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestAndSearch(t *testing.T) {
	store, err := storage.Open(t.TempDir(), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := newTestServer(t, store, WithStore(store), WithPinger(store))

	body := `[
		{"timestamp": 1000, "level": "ERROR", "service": "order", "message": "payment timeout"},
		{"timestamp": 2000, "severity": "info", "body": "ok", "attributes": {"service": "order"}}
	]`
	resp, err := http.Post(srv.URL+"/api/ingest", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	search, err := http.Get(srv.URL + "/api/search?start=0&end=5000&q=service%3Dorder")
	require.NoError(t, err)
	defer search.Body.Close()
	require.Equal(t, http.StatusOK, search.StatusCode)
	var rows []model.LogRecord
	decodeBody(t, search, &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2000), rows[0].Timestamp)
	assert.NotEmpty(t, rows[1].ID, "ids are assigned on ingest")

	q := postJSON(t, srv.URL+"/api/query", model.QueryRequest{
		Targets: []model.QueryTarget{{ID: "A", FilterText: "severity=error", ResultLimit: 10}},
		Range:   model.TimeRange{From: 0, To: 5000},
	})
	require.Equal(t, http.StatusOK, q.StatusCode)
	var out model.QueryResponse
	decodeBody(t, q, &out)
	require.Len(t, out.Frames, 1)
	assert.Equal(t, []string{"payment timeout"}, out.Frames[0].Columns.Body)

	badFilter := postJSON(t, srv.URL+"/api/query", model.QueryRequest{
		Targets: []model.QueryTarget{{ID: "A", FilterText: "(oops"}},
		Range:   model.TimeRange{From: 0, To: 5000},
	})
	assert.Equal(t, http.StatusBadRequest, badFilter.StatusCode)

	stats, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	var st storage.Stats
	decodeBody(t, stats, &st)
	assert.Equal(t, 2, st.MemRows)

	hist, err := http.Get(srv.URL + "/api/histogram?start=0&end=5000&interval=1000")
	require.NoError(t, err)
	defer hist.Body.Close()
	require.Equal(t, http.StatusOK, hist.StatusCode)
	var points []storage.HistogramPoint
	decodeBody(t, hist, &points)
	assert.Equal(t, []storage.HistogramPoint{{Time: 1000, Count: 1}, {Time: 2000, Count: 1}}, points)

	badInterval, err := http.Get(srv.URL + "/api/histogram?interval=-5")
	require.NoError(t, err)
	defer badInterval.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badInterval.StatusCode)

	invalid, err := http.Post(srv.URL+"/api/ingest", "application/json", strings.NewReader(`{"broken"`))
	require.NoError(t, err)
	defer invalid.Body.Close()
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)
}

func TestStoreRoutesNeedStore(t *testing.T) {
	srv := newTestServer(t, echoSource)
	resp, err := http.Post(srv.URL+"/api/ingest", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamEndpoint(t *testing.T) {
	srv := newTestServer(t, echoSource)
	conn := dialStream(t, srv)

	require.NoError(t, conn.WriteJSON(model.QueryRequest{
		Targets: []model.QueryTarget{{ID: "A", FilterText: "x"}},
		Range:   model.TimeRange{From: 0, To: 100},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for k := 0; k < 3; k++ {
		var resp model.QueryResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.Equal(t, model.StateStreaming, resp.State)
		require.Len(t, resp.Frames, 1)
		assert.Equal(t, []int64{int64(k) * 10_000}, resp.Frames[0].Columns.Timestamp)
	}
}

func TestStreamEndpointRejectsRequest(t *testing.T) {
	srv := newTestServer(t, echoSource)
	conn := dialStream(t, srv)

	require.NoError(t, conn.WriteJSON(model.QueryRequest{Range: model.TimeRange{From: 0, To: 100}}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp model.QueryResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, model.StateError, resp.State)
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusBadRequest, resp.Error.Status)
}

func TestShutdownStopsStreams(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	s := New(engine.New(echoSource, cfg), WithGatherer(prometheus.NewRegistry()))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	streaming := dialStream(t, srv)
	require.NoError(t, streaming.WriteJSON(model.QueryRequest{
		Targets: []model.QueryTarget{{ID: "A"}},
		Range:   model.TimeRange{From: 0, To: 100},
	}))
	require.NoError(t, streaming.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first model.QueryResponse
	require.NoError(t, streaming.ReadJSON(&first))

	// connected but never sends a request
	idle := dialStream(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	var err error
	for err == nil {
		var resp model.QueryResponse
		err = streaming.ReadJSON(&resp)
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = idle.ReadMessage()
	assert.Error(t, err)
}
