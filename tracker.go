package mlflowbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/everydev1618/mlflowbox/journal"
	"github.com/everydev1618/mlflowbox/tracking"
)

// Default tracker configuration values
const (
	DefaultTrackingURI  = "http://localhost:5500"
	DefaultExperimentID = "0"
)

// TrackerConfig holds everything a Tracker needs to reach the tracking server.
// It replaces process-wide client state: each Tracker carries its own.
type TrackerConfig struct {
	// TrackingURI is the tracking server URL. Defaults to DefaultTrackingURI.
	TrackingURI string

	// RegistryURI is the model registry URL. Defaults to TrackingURI.
	RegistryURI string

	// ExperimentName selects (and creates if missing) the experiment runs are
	// recorded under. When empty, ExperimentID is used.
	ExperimentName string

	// ExperimentID is the fallback experiment. Defaults to DefaultExperimentID.
	ExperimentID string
}

// TrackerConfigFromEnv reads MLFLOW_TRACKING_URI, MLFLOW_REGISTRY_URI,
// MLFLOW_EXPERIMENT_NAME and MLFLOW_EXPERIMENT_ID.
func TrackerConfigFromEnv() TrackerConfig {
	return TrackerConfig{
		TrackingURI:    os.Getenv("MLFLOW_TRACKING_URI"),
		RegistryURI:    os.Getenv("MLFLOW_REGISTRY_URI"),
		ExperimentName: os.Getenv("MLFLOW_EXPERIMENT_NAME"),
		ExperimentID:   os.Getenv("MLFLOW_EXPERIMENT_ID"),
	}
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.TrackingURI == "" {
		c.TrackingURI = DefaultTrackingURI
	}
	if c.RegistryURI == "" {
		c.RegistryURI = c.TrackingURI
	}
	if c.ExperimentID == "" {
		c.ExperimentID = DefaultExperimentID
	}
	return c
}

// ServerConfig reports the endpoints a Tracker talks to.
type ServerConfig struct {
	TrackingURI string `json:"tracking_uri" yaml:"tracking_uri"`
	RegistryURI string `json:"registry_uri" yaml:"registry_uri"`
}

// Map returns the config as key/value pairs.
func (s ServerConfig) Map() map[string]string {
	return map[string]string{
		"tracking_uri": s.TrackingURI,
		"registry_uri": s.RegistryURI,
	}
}

// Tracker opens runs on a tracking server and records what tracked
// functions report.
type Tracker struct {
	cfg        TrackerConfig
	client     *tracking.Client
	clientOpts []tracking.ClientOption
	journal    journal.Store
	now        func() time.Time
	user       string
	source     string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithJournal records every run in a local journal.
func WithJournal(s journal.Store) TrackerOption {
	return func(t *Tracker) {
		t.journal = s
	}
}

// WithHTTPClient sets the HTTP client used to reach the tracking server.
func WithHTTPClient(c *http.Client) TrackerOption {
	return func(t *Tracker) {
		t.clientOpts = append(t.clientOpts, tracking.WithHTTPClient(c))
	}
}

// WithClientOptions passes options through to the tracking client.
func WithClientOptions(opts ...tracking.ClientOption) TrackerOption {
	return func(t *Tracker) {
		t.clientOpts = append(t.clientOpts, opts...)
	}
}

// WithClock overrides the time source used for run and metric timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker for the given configuration.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		user:   os.Getenv("USER"),
		source: filepath.Base(os.Args[0]),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.client = tracking.NewClient(t.cfg.TrackingURI, t.clientOpts...)
	return t
}

// Config returns the resolved tracker configuration.
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// ServerConfig returns the tracking and registry endpoints.
func (t *Tracker) ServerConfig() ServerConfig {
	return ServerConfig{
		TrackingURI: t.cfg.TrackingURI,
		RegistryURI: t.cfg.RegistryURI,
	}
}

// TrackOption configures a single tracked run.
type TrackOption func(*trackOptions)

type trackOptions struct {
	runName    string
	experiment string
}

// WithRunName sets the run name. Tracked functions default to their own name.
func WithRunName(name string) TrackOption {
	return func(o *trackOptions) {
		o.runName = name
	}
}

// WithExperiment records the run under the named experiment instead of the
// tracker's configured one.
func WithExperiment(name string) TrackOption {
	return func(o *trackOptions) {
		o.experiment = name
	}
}

func (t *Tracker) resolveExperiment(ctx context.Context, name string) (string, error) {
	if name == "" {
		return t.cfg.ExperimentID, nil
	}
	return t.client.EnsureExperiment(ctx, name)
}

// StartRun opens a run. The caller must End it.
func (t *Tracker) StartRun(ctx context.Context, opts ...TrackOption) (*Run, error) {
	o := trackOptions{experiment: t.cfg.ExperimentName}
	for _, opt := range opts {
		opt(&o)
	}

	expID, err := t.resolveExperiment(ctx, o.experiment)
	if err != nil {
		return nil, fmt.Errorf("select experiment: %w", err)
	}

	var tags []tracking.RunTag
	if t.user != "" {
		tags = append(tags, tracking.RunTag{Key: "mlflow.user", Value: t.user})
	}
	if t.source != "" {
		tags = append(tags,
			tracking.RunTag{Key: "mlflow.source.name", Value: t.source},
			tracking.RunTag{Key: "mlflow.source.type", Value: "LOCAL"},
		)
	}

	started := t.now()
	info, err := t.client.CreateRun(ctx, tracking.CreateRunRequest{
		ExperimentID: expID,
		RunName:      o.runName,
		StartTime:    started,
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	entry := journal.NewEntry()
	entry.RunID = info.RunID
	entry.ExperimentID = expID
	entry.ExperimentName = o.experiment
	entry.RunName = info.RunName
	entry.TrackingURI = t.cfg.TrackingURI
	entry.Status = string(tracking.RunStatusRunning)
	entry.StartedAt = started

	run := &Run{tracker: t, info: *info, entry: entry}
	run.journalize()

	slog.Debug("run started", "run_id", info.RunID, "run_name", info.RunName, "experiment_id", expID)
	return run, nil
}

// Run is an open tracking scope. It is released by End.
type Run struct {
	tracker *Tracker
	info    tracking.RunInfo

	mu     sync.Mutex
	entry  journal.Entry
	closed bool
}

// ID returns the server-assigned run ID.
func (r *Run) ID() string {
	return r.info.RunID
}

// Info returns the run metadata as of creation or the last End.
func (r *Run) Info() tracking.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// LogParam records a parameter. The value is stringified with fmt.Sprint.
func (r *Run) LogParam(ctx context.Context, key string, value any) error {
	if r.isClosed() {
		return ErrRunClosed
	}
	s := fmt.Sprint(value)
	if err := r.tracker.client.LogParam(ctx, r.info.RunID, key, s); err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	r.mu.Lock()
	r.entry.Params[key] = s
	r.mu.Unlock()
	return nil
}

// LogMetric records a metric at step 0.
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if r.isClosed() {
		return ErrRunClosed
	}
	if err := r.tracker.client.LogMetric(ctx, r.info.RunID, key, value, r.tracker.now(), 0); err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	r.mu.Lock()
	r.entry.Metrics[key] = value
	r.mu.Unlock()
	return nil
}

// End closes the run with the given status. Calling End more than once is a
// no-op.
func (r *Run) End(ctx context.Context, status tracking.RunStatus) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	ended := r.tracker.now()
	info, err := r.tracker.client.UpdateRun(ctx, r.info.RunID, status, ended)

	r.mu.Lock()
	if err == nil {
		r.info = *info
	}
	r.entry.Status = string(status)
	r.entry.EndedAt = ended
	r.mu.Unlock()
	r.journalize()

	if err != nil {
		return fmt.Errorf("end run %s: %w", r.info.RunID, err)
	}
	slog.Debug("run ended", "run_id", r.info.RunID, "status", status)
	return nil
}

// setError notes a failure cause in the journal entry.
func (r *Run) setError(err error) {
	r.mu.Lock()
	r.entry.Error = err.Error()
	r.mu.Unlock()
}

func (r *Run) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Run) journalize() {
	if r.tracker.journal == nil {
		return
	}
	r.mu.Lock()
	e := r.entry
	e.Params = copyMap(r.entry.Params)
	e.Metrics = copyMap(r.entry.Metrics)
	r.mu.Unlock()

	if err := r.tracker.journal.Record(e); err != nil {
		slog.Warn("failed to journal run", "run_id", e.RunID, "error", err)
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
