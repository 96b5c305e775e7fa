package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/infergate/types"
)

func newTestInvoker(t *testing.T, handler http.HandlerFunc, routes map[string]Route) *HTTPInvoker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPInvoker(HTTPConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Routes:  routes,
	}, zap.NewNop())
}

func TestHTTPInvoker_Completions(t *testing.T) {
	var gotPath string
	var gotBody completionRequest

	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(completionResponse{
			Choices: []struct {
				Index int    `json:"index"`
				Text  string `json:"text"`
			}{{Index: 0, Text: "hello back"}},
		})
	}, map[string]Route{"completion": RouteCompletions})

	resp, err := inv.Invoke(context.Background(), &InvokeRequest{
		Class:    "completion",
		Payloads: []any{"hello"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.NoError(t, resp.Results[0].Err)
	assert.Equal(t, "hello back", resp.Results[0].Value)
	assert.Equal(t, "/v1/completions", gotPath)
	assert.Equal(t, "hello", gotBody.Prompt)
}

func TestHTTPInvoker_Embeddings_PositionalDemux(t *testing.T) {
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"a", "b", "c"}, req.Input)

		// Return data out of order; invoker must realign by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 2, "embedding": []float64{3}},
				{"index": 0, "embedding": []float64{1}},
				{"index": 1, "embedding": []float64{2}},
			},
		})
	}, map[string]Route{"embedding": RouteEmbeddings})

	resp, err := inv.Invoke(context.Background(), &InvokeRequest{
		Class:    "embedding",
		Payloads: []any{"a", "b", "c"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []float64{1}, resp.Results[0].Value)
	assert.Equal(t, []float64{2}, resp.Results[1].Value)
	assert.Equal(t, []float64{3}, resp.Results[2].Value)
}

func TestHTTPInvoker_Embeddings_CountMismatch(t *testing.T) {
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{1}}},
		})
	}, map[string]Route{"embedding": RouteEmbeddings})

	_, err := inv.Invoke(context.Background(), &InvokeRequest{
		Class:    "embedding",
		Payloads: []any{"a", "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestHTTPInvoker_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, nil)

			_, err := inv.Invoke(context.Background(), &InvokeRequest{
				Class:    "completion",
				Payloads: []any{"x"},
			})
			require.Error(t, err)
			assert.Equal(t, types.ErrBackendError, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestHTTPInvoker_RouteInference(t *testing.T) {
	inv := NewHTTPInvoker(HTTPConfig{}, zap.NewNop())

	assert.Equal(t, RouteCompletions, inv.routeFor(&InvokeRequest{Payloads: []any{"x"}}))
	assert.Equal(t, RouteEmbeddings, inv.routeFor(&InvokeRequest{Payloads: []any{"x", "y"}}))
}

func TestTiktokenCost_FallbackForNonString(t *testing.T) {
	c := NewTiktokenCost("")
	assert.Equal(t, 1, c.Cost(struct{}{}))
	assert.Greater(t, c.Cost("some reasonably long payload text"), 0)
}
