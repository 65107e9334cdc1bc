package container

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/everydev1618/mlflowbox"
)

// portDialTimeout bounds the loopback connect used to detect a bound port.
const portDialTimeout = time.Second

// ExpandUser replaces a leading "~" with the current user's home directory.
func ExpandUser(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ResolveDataDir expands, absolutizes and creates the host data directory,
// then checks that it exists, is a directory and is writable.
// Failures are returned as *mlflowbox.ConfigurationError.
func ResolveDataDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", &mlflowbox.ConfigurationError{Check: "required", Key: "MLFLOW_DATA_DIR"}
	}

	expanded, err := ExpandUser(dir)
	if err != nil {
		return "", &mlflowbox.ConfigurationError{Check: "exists", Path: dir, Err: err}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", &mlflowbox.ConfigurationError{Check: "exists", Path: expanded, Err: err}
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
			return "", &mlflowbox.ConfigurationError{Check: "is_dir", Path: abs}
		}
		return "", &mlflowbox.ConfigurationError{Check: "exists", Path: abs, Err: err}
	}

	if err := ValidateDataDir(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// ValidateDataDir checks that path exists, is a directory and is writable.
func ValidateDataDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &mlflowbox.ConfigurationError{Check: "exists", Path: path, Err: err}
	}
	if !info.IsDir() {
		return &mlflowbox.ConfigurationError{Check: "is_dir", Path: path}
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return &mlflowbox.ConfigurationError{Check: "writable", Path: path, Err: err}
	}
	return nil
}

// PortInUse reports whether something accepts TCP connections on
// 127.0.0.1:port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), portDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// CheckPort returns a *mlflowbox.PortConflictError if port is taken.
func CheckPort(port int) error {
	if port <= 0 || port > 65535 {
		return &mlflowbox.ConfigurationError{Check: "port", Path: strconv.Itoa(port), Err: errors.New("port out of range")}
	}
	if PortInUse(port) {
		return &mlflowbox.PortConflictError{Port: port}
	}
	return nil
}
