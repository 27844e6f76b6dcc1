package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/pkg/logjson"
)

// NodeError reports a data node that could not answer a search.
type NodeError struct {
	Node   string
	Status int // HTTP status returned by the node, 0 on transport errors
	Err    error
}

func (e *NodeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("node %s returned status %d", e.Node, e.Status)
	}
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// StatusCode reports the node's status, or 502 when it never answered.
func (e *NodeError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusBadGateway
}

// RemoteSource fetches records from a set of data nodes exposing /api/search.
// Every node is queried in parallel; results are merged newest first and trimmed
// to the limit.
type RemoteSource struct {
	Nodes  []string
	Client *http.Client
	Token  string // sent as a bearer token when set
	Logger *zap.Logger
}

// NewRemoteSource creates a RemoteSource with a 10s client timeout.
func NewRemoteSource(nodes []string, token string, logger *zap.Logger) *RemoteSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	trimmed := make([]string, len(nodes))
	for i, n := range nodes {
		trimmed[i] = strings.TrimRight(n, "/")
	}
	return &RemoteSource{
		Nodes:  trimmed,
		Client: &http.Client{Timeout: 10 * time.Second},
		Token:  token,
		Logger: logger,
	}
}

// Fetch performs a scatter-gather search. It fails if any node fails.
func (a *RemoteSource) Fetch(ctx context.Context, limit int, from, to int64, filter string) ([]model.LogRecord, error) {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(from, 10))
	params.Set("end", strconv.FormatInt(to, 10))
	params.Set("q", filter)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	rawQuery := params.Encode()

	var (
		allRows  []model.LogRecord
		firstErr error
		mu       sync.Mutex
		wg       sync.WaitGroup
	)
	for _, node := range a.Nodes {
		wg.Add(1)
		go func(nodeURL string) {
			defer wg.Done()
			rows, err := a.search(ctx, nodeURL, rawQuery)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger().Warn("node search failed", zap.String("node", nodeURL), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			allRows = append(allRows, rows...)
		}(node)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// Merge-Sort by timestamp descending
	sort.SliceStable(allRows, func(i, j int) bool {
		return allRows[i].Timestamp > allRows[j].Timestamp
	})
	if limit > 0 && len(allRows) > limit {
		allRows = allRows[:limit]
	}
	if allRows == nil {
		allRows = []model.LogRecord{}
	}
	return allRows, nil
}

// Ping checks that every node answers its health endpoint.
func (a *RemoteSource) Ping(ctx context.Context) error {
	for _, node := range a.Nodes {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/api/health", nil)
		if err != nil {
			return err
		}
		a.authorize(req)
		resp, err := a.client().Do(req)
		if err != nil {
			return &NodeError{Node: node, Err: err}
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &NodeError{Node: node, Status: resp.StatusCode}
		}
	}
	return nil
}

func (a *RemoteSource) search(ctx context.Context, nodeURL, rawQuery string) ([]model.LogRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/api/search?"+rawQuery, nil)
	if err != nil {
		return nil, &NodeError{Node: nodeURL, Err: err}
	}
	a.authorize(req)

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, &NodeError{Node: nodeURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NodeError{Node: nodeURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &NodeError{Node: nodeURL, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	rows, err := logjson.ParseRecords(body)
	if err != nil {
		return nil, &NodeError{Node: nodeURL, Err: fmt.Errorf("decode response: %w", err)}
	}
	return rows, nil
}

func (a *RemoteSource) authorize(req *http.Request) {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

func (a *RemoteSource) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *RemoteSource) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}
