// Package mlflowtest provides an in-memory MLflow tracking server for tests.
package mlflowtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"math"
	"sync"
)

// Param is a recorded log-parameter call.
type Param struct {
	RunID string
	Key   string
	Value string
}

// Metric is a recorded log-metric call.
type Metric struct {
	RunID     string
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

// Run is a run as stored by the fake server.
type Run struct {
	RunID        string
	ExperimentID string
	RunName      string
	Status       string
	StartTime    int64
	EndTime      int64
	Tags         map[string]string
}

// Server is a fake tracking server backed by httptest.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	experiments map[string]string // name -> id
	runs        map[string]*Run
	runOrder    []string
	params      []Param
	metrics     []Metric
	nextID      int

	// failPaths maps an API path (e.g. "/runs/log-metric") to a status code
	// the server answers with instead of handling the request.
	failPaths map[string]int
}

// NewServer starts a fake server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		experiments: map[string]string{"Default": "0"},
		runs:        make(map[string]*Run),
		failPaths:   make(map[string]int),
		nextID:      1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/2.0/mlflow/experiments/get-by-name", s.wrap("/experiments/get-by-name", s.handleGetExperiment))
	mux.HandleFunc("POST /api/2.0/mlflow/experiments/create", s.wrap("/experiments/create", s.handleCreateExperiment))
	mux.HandleFunc("POST /api/2.0/mlflow/runs/create", s.wrap("/runs/create", s.handleCreateRun))
	mux.HandleFunc("POST /api/2.0/mlflow/runs/update", s.wrap("/runs/update", s.handleUpdateRun))
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-parameter", s.wrap("/runs/log-parameter", s.handleLogParam))
	mux.HandleFunc("POST /api/2.0/mlflow/runs/log-metric", s.wrap("/runs/log-metric", s.handleLogMetric))

	s.Server = httptest.NewServer(mux)
	return s
}

// AddExperiment registers an existing experiment and returns its ID.
func (s *Server) AddExperiment(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addExperimentLocked(name)
}

// Fail makes every request to path answer with the given status code.
func (s *Server) Fail(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = code
}

// ExperimentID returns the ID of a named experiment.
func (s *Server) ExperimentID(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.experiments[name]
	return id, ok
}

// Runs returns a copy of all runs in creation order.
func (s *Server) Runs() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		out = append(out, *s.runs[id])
	}
	return out
}

// Params returns all recorded parameters.
func (s *Server) Params() []Param {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Param(nil), s.params...)
}

// Metrics returns all recorded metrics.
func (s *Server) Metrics() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Metric(nil), s.metrics...)
}

func (s *Server) addExperimentLocked(name string) string {
	id := strconv.Itoa(s.nextID)
	s.nextID++
	s.experiments[name] = id
	return id
}

func (s *Server) wrap(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code, fail := s.failPaths[path]
		s.mu.Unlock()
		if fail {
			writeError(w, code, "INTERNAL_ERROR", "injected failure")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("experiment_name")
	s.mu.Lock()
	id, ok := s.experiments[name]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Sprintf("Could not find experiment with name '%s'", name))
		return
	}
	writeJSON(w, map[string]any{
		"experiment": map[string]any{
			"experiment_id":   id,
			"name":            name,
			"lifecycle_stage": "active",
		},
	})
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", "missing name")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[req.Name]; ok {
		writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", "experiment exists")
		return
	}
	writeJSON(w, map[string]any{"experiment_id": s.addExperimentLocked(req.Name)})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
		Tags         []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}

	s.mu.Lock()
	run := &Run{
		RunID:        fmt.Sprintf("run%04d", len(s.runOrder)+1),
		ExperimentID: req.ExperimentID,
		RunName:      req.RunName,
		Status:       "RUNNING",
		StartTime:    req.StartTime,
		Tags:         make(map[string]string),
	}
	for _, tag := range req.Tags {
		run.Tags[tag.Key] = tag.Value
	}
	s.runs[run.RunID] = run
	s.runOrder = append(s.runOrder, run.RunID)
	s.mu.Unlock()

	writeJSON(w, map[string]any{"run": map[string]any{"info": runInfo(run)}})
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}

	s.mu.Lock()
	run, ok := s.runs[req.RunID]
	if ok {
		run.Status = req.Status
		run.EndTime = req.EndTime
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "run not found")
		return
	}
	writeJSON(w, map[string]any{"run_info": runInfo(run)})
}

func (s *Server) handleLogParam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}
	s.mu.Lock()
	s.params = append(s.params, Param{RunID: req.RunID, Key: req.Key, Value: req.Value})
	s.mu.Unlock()
	writeJSON(w, map[string]any{})
}

func (s *Server) handleLogMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID     string          `json:"run_id"`
		Key       string          `json:"key"`
		Value     json.RawMessage `json:"value"`
		Timestamp int64           `json:"timestamp"`
		Step      int64           `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}
	value, err := parseMetricValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return
	}
	s.mu.Lock()
	s.metrics = append(s.metrics, Metric{
		RunID:     req.RunID,
		Key:       req.Key,
		Value:     value,
		Timestamp: req.Timestamp,
		Step:      req.Step,
	})
	s.mu.Unlock()
	writeJSON(w, map[string]any{})
}

// parseMetricValue accepts a JSON number or one of the protobuf JSON
// spellings of a non-finite double.
func parseMetricValue(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("invalid metric value %s", raw)
	}
	return f, nil
}

func runInfo(run *Run) map[string]any {
	info := map[string]any{
		"run_id":          run.RunID,
		"experiment_id":   run.ExperimentID,
		"run_name":        run.RunName,
		"status":          run.Status,
		"start_time":      run.StartTime,
		"lifecycle_stage": "active",
	}
	if run.EndTime != 0 {
		info["end_time"] = run.EndTime
	}
	return info
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": msg})
}
