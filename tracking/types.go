package tracking

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether the status closes a run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed || s == RunStatusKilled
}

// Experiment is a named grouping of runs.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

// RunInfo is the server-side metadata of a run. Times are epoch milliseconds.
type RunInfo struct {
	RunID          string    `json:"run_id"`
	ExperimentID   string    `json:"experiment_id"`
	RunName        string    `json:"run_name,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Status         RunStatus `json:"status"`
	StartTime      int64     `json:"start_time,omitempty"`
	EndTime        int64     `json:"end_time,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
}

// Started returns the run start time.
func (r RunInfo) Started() time.Time {
	return time.UnixMilli(r.StartTime)
}

// Ended returns the run end time, or the zero time if the run is still open.
func (r RunInfo) Ended() time.Time {
	if r.EndTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.EndTime)
}

// RunTag is a key/value tag attached to a run.
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CreateRunRequest holds the fields sent to runs/create.
type CreateRunRequest struct {
	ExperimentID string
	RunName      string
	StartTime    time.Time
	Tags         []RunTag
}

// Error codes returned by the tracking server.
const (
	CodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	CodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// APIError is an error response from the tracking server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mlflow API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a RESOURCE_DOES_NOT_EXIST response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeResourceDoesNotExist ||
		(apiErr.Code == "" && apiErr.StatusCode == http.StatusNotFound)
}

// IsAlreadyExists reports whether err is a RESOURCE_ALREADY_EXISTS response.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeResourceAlreadyExists
}
