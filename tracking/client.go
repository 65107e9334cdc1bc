package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default client configuration values
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	apiPrefix = "/api/2.0/mlflow"
)

// Client talks to an MLflow tracking server over its REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMaxRetries sets how many times a throttled request is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryBase sets the initial backoff between retries.
func WithRetryBase(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryBase = d
	}
}

// NewClient creates a client for the tracking server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxRetries: DefaultMaxRetries,
		retryBase:  500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the tracking server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetExperimentByName looks up an experiment by name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := c.do(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

// CreateExperiment creates an experiment and returns its ID.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	req := map[string]string{"name": name}
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/experiments/create", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

// EnsureExperiment returns the ID of the named experiment, creating it if needed.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (string, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return exp.ExperimentID, nil
	}
	if !IsNotFound(err) {
		return "", fmt.Errorf("get experiment %q: %w", name, err)
	}

	id, err := c.CreateExperiment(ctx, name)
	if err == nil {
		slog.Info("created experiment", "name", name, "experiment_id", id)
		return id, nil
	}
	// Lost a creation race with another client.
	if IsAlreadyExists(err) {
		exp, getErr := c.GetExperimentByName(ctx, name)
		if getErr == nil {
			return exp.ExperimentID, nil
		}
	}
	return "", fmt.Errorf("create experiment %q: %w", name, err)
}

type createRunBody struct {
	ExperimentID string   `json:"experiment_id"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time"`
	Tags         []RunTag `json:"tags,omitempty"`
}

// CreateRun opens a new run.
func (c *Client) CreateRun(ctx context.Context, r CreateRunRequest) (*RunInfo, error) {
	start := r.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	body := createRunBody{
		ExperimentID: r.ExperimentID,
		RunName:      r.RunName,
		StartTime:    start.UnixMilli(),
		Tags:         r.Tags,
	}

	var resp struct {
		Run struct {
			Info RunInfo `json:"info"`
		} `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, "/runs/create", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Run.Info, nil
}

type updateRunBody struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	EndTime int64     `json:"end_time,omitempty"`
}

// UpdateRun sets the status of a run. A non-zero end time closes it.
func (c *Client) UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) (*RunInfo, error) {
	body := updateRunBody{RunID: runID, Status: status}
	if !end.IsZero() {
		body.EndTime = end.UnixMilli()
	}

	var resp struct {
		RunInfo RunInfo `json:"run_info"`
	}
	if err := c.do(ctx, http.MethodPost, "/runs/update", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.RunInfo, nil
}

// LogParam records a parameter on a run.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	body := map[string]string{
		"run_id": runID,
		"key":    key,
		"value":  value,
	}
	return c.do(ctx, http.MethodPost, "/runs/log-parameter", nil, body, nil)
}

type logMetricBody struct {
	RunID     string      `json:"run_id"`
	Key       string      `json:"key"`
	Value     MetricValue `json:"value"`
	Timestamp int64       `json:"timestamp"`
	Step      int64       `json:"step"`
}

// MetricValue is a metric as sent on the wire. Non-finite values are encoded
// as the strings "NaN", "Infinity" and "-Infinity", which the tracking
// server's protobuf JSON parser accepts.
type MetricValue float64

func (v MetricValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

// LogMetric records a metric value on a run.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, ts time.Time, step int64) error {
	body := logMetricBody{
		RunID:     runID,
		Key:       key,
		Value:     MetricValue(value),
		Timestamp: ts.UnixMilli(),
		Step:      step,
	}
	return c.do(ctx, http.MethodPost, "/runs/log-metric", nil, body, nil)
}

func (c *Client) createHTTPRequest(ctx context.Context, method, path string, query url.Values, in any) (*http.Request, error) {
	endpoint := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := c.createHTTPRequest(ctx, method, path, query, in)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request %s: %w", path, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) && attempt < c.maxRetries {
			wait := c.retryDelay(resp, attempt)
			slog.Warn("tracking server throttled, retrying", "path", path, "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return decodeAPIError(resp.StatusCode, body)
	}

	return fmt.Errorf("max retries exceeded")
}

// retryDelay honors Retry-After when present, otherwise backs off exponentially.
func (c *Client) retryDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	wait := c.retryBase << uint(attempt)
	if wait > 10*time.Second {
		wait = 10 * time.Second
	}
	return wait
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
