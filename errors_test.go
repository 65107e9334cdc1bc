package mlflowbox

import (
	"errors"
	"os"
	"testing"
)

func TestStandardErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrContainerNotFound", ErrContainerNotFound, "container not found"},
		{"ErrDockerUnavailable", ErrDockerUnavailable, "docker not available"},
		{"ErrImageNotFound", ErrImageNotFound, "image not found locally"},
		{"ErrMalformedResult", ErrMalformedResult, "malformed tracking result"},
		{"ErrInvalidMetric", ErrInvalidMetric, "metric value is not numeric"},
		{"ErrRunClosed", ErrRunClosed, "run already closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("%s.Error() = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigurationError
		want string
	}{
		{
			name: "missing key",
			err:  &ConfigurationError{Check: "required", Key: "MLFLOW_DATA_DIR"},
			want: "configuration: MLFLOW_DATA_DIR is not set",
		},
		{
			name: "failed check",
			err:  &ConfigurationError{Check: "writable", Path: "/srv/mlflow"},
			want: "configuration: writable check failed for /srv/mlflow",
		},
		{
			name: "failed check with cause",
			err:  &ConfigurationError{Check: "exists", Path: "/srv/mlflow", Err: os.ErrPermission},
			want: "configuration: exists check failed for /srv/mlflow: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("ConfigurationError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPortConflictError(t *testing.T) {
	err := &PortConflictError{Port: 5000}

	want := "port 5000 is already in use"
	if got := err.Error(); got != want {
		t.Errorf("PortConflictError.Error() = %q, want %q", got, want)
	}

	var wrapped error = errors.Join(errors.New("start"), err)
	var pce *PortConflictError
	if !errors.As(wrapped, &pce) || pce.Port != 5000 {
		t.Error("errors.As should find PortConflictError")
	}
}

func TestRuntimeError(t *testing.T) {
	err := &RuntimeError{
		Op:        "teardown",
		Container: "mlflow_global_server",
		Err:       ErrDockerUnavailable,
	}

	want := "container runtime: teardown mlflow_global_server: docker not available"
	if got := err.Error(); got != want {
		t.Errorf("RuntimeError.Error() = %q, want %q", got, want)
	}

	// Test Unwrap
	if got := err.Unwrap(); got != ErrDockerUnavailable {
		t.Errorf("RuntimeError.Unwrap() = %v, want %v", got, ErrDockerUnavailable)
	}

	// Test errors.Is
	if !errors.Is(err, ErrDockerUnavailable) {
		t.Error("errors.Is(RuntimeError, ErrDockerUnavailable) should be true")
	}

	noName := &RuntimeError{Op: "connect", Err: ErrDockerUnavailable}
	if got := noName.Error(); got != "container runtime: connect: docker not available" {
		t.Errorf("RuntimeError.Error() = %q", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := errors.New("connection refused")
	rtErr := &RuntimeError{
		Op:  "create",
		Err: baseErr,
	}

	// Should be able to unwrap to base error
	var unwrapped error = rtErr
	for {
		next := errors.Unwrap(unwrapped)
		if next == nil {
			break
		}
		unwrapped = next
	}

	if unwrapped != baseErr {
		t.Errorf("Final unwrapped error = %v, want %v", unwrapped, baseErr)
	}
}
