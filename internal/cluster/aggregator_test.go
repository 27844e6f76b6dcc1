package cluster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/search":
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "100", r.URL.Query().Get("start"))
			assert.Equal(t, "900", r.URL.Query().Get("end"))
			assert.Equal(t, "severity=error", r.URL.Query().Get("q"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteSourceMergesNodes(t *testing.T) {
	a := node(t, `[{"timestamp": 500, "body": "a5", "severity": "error"}, {"timestamp": 200, "body": "a2"}]`)
	b := node(t, `[{"timestamp": 400, "message": "b4", "level": "ERROR", "service": "order"}]`)

	src := NewRemoteSource([]string{a.URL + "/", b.URL}, "secret", nil)
	rows, err := src.Fetch(context.Background(), 2, 100, 900, "severity=error")
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, int64(500), rows[0].Timestamp)
	assert.Equal(t, int64(400), rows[1].Timestamp)
	assert.Equal(t, "b4", rows[1].Body)
	assert.Equal(t, "order", rows[1].Attributes["service"])

	assert.NoError(t, src.Ping(context.Background()))
}

func TestRemoteSourceFailsOnNodeError(t *testing.T) {
	ok := node(t, `[]`)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	src := NewRemoteSource([]string{ok.URL, broken.URL}, "secret", nil)
	rows, err := src.Fetch(context.Background(), 10, 100, 900, "severity=error")

	assert.Nil(t, rows)
	var nerr *NodeError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, broken.URL, nerr.Node)
	assert.Equal(t, http.StatusServiceUnavailable, nerr.StatusCode())

	assert.Error(t, src.Ping(context.Background()))
}

func TestRemoteSourceUnreachableNode(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	src := NewRemoteSource([]string{dead.URL}, "", nil)
	_, err := src.Fetch(context.Background(), 10, 0, 1, "")

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 0, nerr.Status)
	assert.Equal(t, http.StatusBadGateway, nerr.StatusCode())
}

func TestRemoteSourceRejectsGarbage(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer bad.Close()

	src := NewRemoteSource([]string{bad.URL}, "", nil)
	_, err := src.Fetch(context.Background(), 10, 0, 1, "")
	assert.Error(t, err)
}
