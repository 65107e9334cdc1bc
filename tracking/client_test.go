package tracking

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/mlflowbox/internal/mlflowtest"
)

func newTestClient(t *testing.T) (*Client, *mlflowtest.Server) {
	t.Helper()
	srv := mlflowtest.NewServer()
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithRetryBase(time.Millisecond)), srv
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:5000///")
	assert.Equal(t, "http://localhost:5000", c.BaseURL())
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
}

func TestClient_GetExperimentByName(t *testing.T) {
	c, srv := newTestClient(t)
	id := srv.AddExperiment("Test_Basic")

	exp, err := c.GetExperimentByName(context.Background(), "Test_Basic")
	require.NoError(t, err)
	assert.Equal(t, id, exp.ExperimentID)
	assert.Equal(t, "Test_Basic", exp.Name)
}

func TestClient_GetExperimentByName_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetExperimentByName(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, CodeResourceDoesNotExist, apiErr.Code)
}

func TestClient_EnsureExperiment(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	id, err := c.EnsureExperiment(ctx, "Test_Decorator")
	require.NoError(t, err)

	stored, ok := srv.ExperimentID("Test_Decorator")
	require.True(t, ok, "experiment should be created")
	assert.Equal(t, stored, id)

	// Second call finds the existing experiment.
	again, err := c.EnsureExperiment(ctx, "Test_Decorator")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestClient_RunLifecycle(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	run, err := c.CreateRun(ctx, CreateRunRequest{
		ExperimentID: "0",
		RunName:      "train_model",
		StartTime:    start,
		Tags:         []RunTag{{Key: "mlflow.user", Value: "tester"}},
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, "train_model", run.RunName)
	assert.Equal(t, start, run.Started())
	assert.True(t, run.Ended().IsZero())

	require.NoError(t, c.LogParam(ctx, run.RunID, "lr", "0.01"))
	require.NoError(t, c.LogMetric(ctx, run.RunID, "acc", 0.9, start, 0))

	end := start.Add(time.Second)
	info, err := c.UpdateRun(ctx, run.RunID, RunStatusFinished, end)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFinished, info.Status)
	assert.Equal(t, end, info.Ended())

	runs := srv.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "tester", runs[0].Tags["mlflow.user"])
	assert.Equal(t, []mlflowtest.Param{{RunID: run.RunID, Key: "lr", Value: "0.01"}}, srv.Params())

	metrics := srv.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, "acc", metrics[0].Key)
	assert.InDelta(t, 0.9, metrics[0].Value, 1e-9)
	assert.Equal(t, start.UnixMilli(), metrics[0].Timestamp)
}

func TestClient_RetriesThrottledRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryBase(time.Millisecond))
	require.NoError(t, c.LogParam(context.Background(), "r1", "k", "v"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("try later"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryBase(time.Millisecond), WithMaxRetries(1))
	err := c.LogParam(context.Background(), "r1", "k", "v")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "try later", apiErr.Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "with code",
			err:  &APIError{StatusCode: 404, Code: CodeResourceDoesNotExist, Message: "no such run"},
			want: "mlflow API error 404 (RESOURCE_DOES_NOT_EXIST): no such run",
		},
		{
			name: "without code",
			err:  &APIError{StatusCode: 502, Message: "bad gateway"},
			want: "mlflow API error 502: bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusFinished.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusKilled.Terminal())
}

func TestMetricValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  string
	}{
		{"finite", 0.25, `0.25`},
		{"nan", math.NaN(), `"NaN"`},
		{"positive infinity", math.Inf(1), `"Infinity"`},
		{"negative infinity", math.Inf(-1), `"-Infinity"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(logMetricBody{Value: MetricValue(tt.value)})
			require.NoError(t, err)
			assert.Contains(t, string(data), `"value":`+tt.want)
		})
	}
}

func TestClient_LogMetricNonFinite(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	info, err := c.CreateRun(ctx, CreateRunRequest{ExperimentID: "0", StartTime: time.Now()})
	require.NoError(t, err)

	require.NoError(t, c.LogMetric(ctx, info.RunID, "loss", math.NaN(), time.Now(), 0))
	require.NoError(t, c.LogMetric(ctx, info.RunID, "grad_norm", math.Inf(-1), time.Now(), 0))

	metrics := srv.Metrics()
	require.Len(t, metrics, 2)
	assert.True(t, math.IsNaN(metrics[0].Value))
	assert.True(t, math.IsInf(metrics[1].Value, -1))
}
