package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/everydev1618/mlflowbox"
)

const (
	// ContainerName is the reserved name of the tracking server container.
	ContainerName = "mlflow_global_server"
	// DefaultImage is the locally built tracking server image.
	DefaultImage = "mlflow_global_setup:latest"
	// DataMountPath is where the host data directory appears in the container.
	DataMountPath = "/mlflow_data"
	// ServerPort is the port the tracking server listens on inside the container.
	ServerPort = "5000/tcp"
	// DefaultHostPort is used when no host port is configured.
	DefaultHostPort = 5000

	LabelManagedBy = "mlflowbox.managed-by"

	stopTimeoutSeconds = 10
)

// dockerAPI is the subset of the Docker client the manager uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Manager runs the tracking server container.
type Manager struct {
	client     dockerAPI
	mu         sync.Mutex
	available  bool
	pull       bool
	checkPort  func(port int) error
	resolveDir func(dir string) (string, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPullMissing pulls the image when it is not present locally. The
// default image is built locally, so this is off by default.
func WithPullMissing(pull bool) ManagerOption {
	return func(m *Manager) {
		m.pull = pull
	}
}

// NewManager creates a container manager.
// If Docker is unavailable, it returns a Manager with available=false.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := newManager(nil, opts...)

	cli, err := createDockerClient()
	if err != nil {
		slog.Debug("docker unavailable", "error", err)
		return m, nil
	}

	m.client = cli
	m.available = true
	return m, nil
}

func newManager(api dockerAPI, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:     api,
		available:  api != nil,
		checkPort:  CheckPort,
		resolveDir: ResolveDataDir,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// pingTimeout bounds each daemon ping during discovery.
const pingTimeout = 2 * time.Second

// dockerHosts lists the daemon sockets tried after DOCKER_HOST, in order:
// Docker Desktop, the Linux default, then Colima.
func dockerHosts(home string) []string {
	hosts := []string{"unix:///var/run/docker.sock"}
	if home == "" {
		return hosts
	}
	return []string{
		"unix://" + filepath.Join(home, ".docker", "run", "docker.sock"),
		hosts[0],
		"unix://" + filepath.Join(home, ".colima", "docker.sock"),
	}
}

// createDockerClient connects to the first daemon that answers a ping,
// starting with the environment's DOCKER_HOST settings.
func createDockerClient() (*client.Client, error) {
	candidates := [][]client.Opt{{client.FromEnv}}
	for _, host := range dockerHosts(os.Getenv("HOME")) {
		candidates = append(candidates, []client.Opt{client.WithHost(host)})
	}

	var errs []error
	for _, opts := range candidates {
		cli, err := client.NewClientWithOpts(append(opts, client.WithAPIVersionNegotiation())...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := pingDaemon(cli); err != nil {
			slog.Debug("docker daemon did not answer", "host", cli.DaemonHost(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cli.DaemonHost(), err))
			cli.Close()
			continue
		}
		slog.Debug("connected to docker daemon", "host", cli.DaemonHost())
		return cli, nil
	}

	return nil, fmt.Errorf("%w: %w", mlflowbox.ErrDockerUnavailable, errors.Join(errs...))
}

func pingDaemon(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

// IsAvailable returns whether Docker is available.
func (m *Manager) IsAvailable() bool {
	return m.available
}

// Spec describes the tracking server container to run.
type Spec struct {
	Name     string
	Image    string
	HostPort int
	DataDir  string
	Env      map[string]string

	// EnvScriptPath is where the shell-sourceable tracking URI export is
	// written. Empty skips the artifact.
	EnvScriptPath string
}

func (s Spec) withDefaults() Spec {
	if s.Name == "" {
		s.Name = ContainerName
	}
	if s.Image == "" {
		s.Image = DefaultImage
	}
	if s.HostPort == 0 {
		s.HostPort = DefaultHostPort
	}
	return s
}

// Deployment is the outcome of a successful EnsureRunning.
type Deployment struct {
	ContainerID  string
	Name         string
	Image        string
	HostPort     int
	DataDir      string
	TrackingURI  string
	Replaced     bool
	Mounts       []MountRecord
	Verification MountVerification
	EnvScript    string
}

// TrackingURIForPort returns the local tracking server URL for a host port.
func TrackingURIForPort(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// EnsureRunning replaces any container with the reserved name by a fresh one
// built from spec.
//
// Configuration and port errors abort before any container is touched.
// Runtime errors during teardown or launch abort and leave no new container
// running. Mount verification problems are reported in the Deployment and
// logged, never returned.
func (m *Manager) EnsureRunning(ctx context.Context, spec Spec) (*Deployment, error) {
	spec = spec.withDefaults()

	dataDir, err := m.resolveDir(spec.DataDir)
	if err != nil {
		return nil, err
	}
	slog.Info("validated host data directory", "path", dataDir)

	if err := m.checkPort(spec.HostPort); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return nil, &mlflowbox.RuntimeError{Op: "connect", Err: mlflowbox.ErrDockerUnavailable}
	}

	teardown := m.teardown(ctx, spec.Name)
	if teardown.Status == TeardownFailed {
		return nil, &mlflowbox.RuntimeError{Op: "teardown", Container: spec.Name, Err: teardown.Err}
	}

	if err := m.ensureImage(ctx, spec.Image); err != nil {
		return nil, &mlflowbox.RuntimeError{Op: "image", Container: spec.Name, Err: err}
	}

	id, err := m.launch(ctx, spec, dataDir)
	if err != nil {
		return nil, err
	}

	dep := &Deployment{
		ContainerID: id,
		Name:        spec.Name,
		Image:       spec.Image,
		HostPort:    spec.HostPort,
		DataDir:     dataDir,
		TrackingURI: TrackingURIForPort(spec.HostPort),
		Replaced:    teardown.Status == TeardownRemoved,
	}
	slog.Info("container started", "name", spec.Name, "id", shortID(id), "tracking_uri", dep.TrackingURI)

	dep.Mounts, dep.Verification = m.verify(ctx, id, dataDir)
	if !dep.Verification.OK() {
		slog.Warn("mount verification failed",
			"status", dep.Verification.Status,
			"expected", dep.Verification.Expected,
			"actual", dep.Verification.Actual,
			"error", dep.Verification.Err)
	}

	if spec.EnvScriptPath != "" {
		if err := WriteEnvScript(spec.EnvScriptPath, dep.TrackingURI); err != nil {
			return dep, fmt.Errorf("write env script: %w", err)
		}
		dep.EnvScript = spec.EnvScriptPath
	}

	return dep, nil
}

// launch creates and starts the container. If start fails the created
// container is removed again.
func (m *Manager) launch(ctx context.Context, spec Spec, dataDir string) (string, error) {
	port := nat.Port(ServerPort)

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env),
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			LabelManagedBy: "mlflowbox",
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dataDir,
				Target: DataMountPath,
			},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyAlways,
		},
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", &mlflowbox.RuntimeError{Op: "create", Container: spec.Name, Err: err}
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := m.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			slog.Warn("failed to remove container after start failure", "id", shortID(resp.ID), "error", rmErr)
		}
		return "", &mlflowbox.RuntimeError{Op: "start", Container: spec.Name, Err: err}
	}

	return resp.ID, nil
}

// TeardownStatus distinguishes "nothing to do" from "something went wrong".
type TeardownStatus int

const (
	TeardownRemoved TeardownStatus = iota
	TeardownNotFound
	TeardownFailed
)

func (s TeardownStatus) String() string {
	switch s {
	case TeardownRemoved:
		return "removed"
	case TeardownNotFound:
		return "not_found"
	case TeardownFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TeardownResult is the outcome of stopping and removing a container.
type TeardownResult struct {
	Status      TeardownStatus
	Name        string
	ContainerID string
	Err         error
}

// Stop stops and removes the named container. It never fails the caller:
// inspect the result to tell a removal from a no-op or a failure.
func (m *Manager) Stop(ctx context.Context, name string) TeardownResult {
	if name == "" {
		name = ContainerName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return TeardownResult{Status: TeardownFailed, Name: name, Err: mlflowbox.ErrDockerUnavailable}
	}

	res := m.teardown(ctx, name)
	switch res.Status {
	case TeardownRemoved:
		slog.Info("container stopped and removed", "name", name, "id", shortID(res.ContainerID))
	case TeardownNotFound:
		slog.Info("no container to stop", "name", name)
	case TeardownFailed:
		slog.Error("failed to stop container", "name", name, "error", res.Err)
	}
	return res
}

// teardown stops and removes a container by name. Callers hold m.mu.
func (m *Manager) teardown(ctx context.Context, name string) TeardownResult {
	res := TeardownResult{Name: name}

	id, err := m.getContainer(ctx, name)
	if errors.Is(err, mlflowbox.ErrContainerNotFound) {
		res.Status = TeardownNotFound
		return res
	}
	if err != nil {
		res.Status = TeardownFailed
		res.Err = err
		return res
	}
	res.ContainerID = id

	slog.Info("stopping existing container", "name", name, "id", shortID(id))
	timeout := stopTimeoutSeconds
	if err := m.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			res.Status = TeardownNotFound
			return res
		}
		res.Status = TeardownFailed
		res.Err = fmt.Errorf("stop: %w", err)
		return res
	}

	if err := m.client.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			res.Status = TeardownNotFound
			return res
		}
		res.Status = TeardownFailed
		res.Err = fmt.Errorf("remove: %w", err)
		return res
	}

	res.Status = TeardownRemoved
	return res
}

// Status describes the named container as the daemon sees it.
type Status struct {
	ContainerID string
	Name        string
	Running     bool
	State       string
	Image       string
	Created     time.Time
	Mounts      []MountRecord
}

// Exists reports whether the container was found.
func (s *Status) Exists() bool {
	return s.ContainerID != ""
}

// Status returns the state of the named container. A missing container is
// reported as a Status with no ID, not as an error.
func (m *Manager) Status(ctx context.Context, name string) (*Status, error) {
	if name == "" {
		name = ContainerName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return nil, &mlflowbox.RuntimeError{Op: "connect", Err: mlflowbox.ErrDockerUnavailable}
	}

	id, err := m.getContainer(ctx, name)
	if errors.Is(err, mlflowbox.ErrContainerNotFound) {
		return &Status{Name: name}, nil
	}
	if err != nil {
		return nil, &mlflowbox.RuntimeError{Op: "lookup", Container: name, Err: err}
	}

	inspect, err := m.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, &mlflowbox.RuntimeError{Op: "lookup", Container: name, Err: err}
	}

	st := &Status{
		ContainerID: shortID(id),
		Name:        name,
		Mounts:      mountRecords(inspect.Mounts),
	}
	if inspect.ContainerJSONBase != nil {
		st.Created, _ = time.Parse(time.RFC3339Nano, inspect.Created)
		if inspect.State != nil {
			st.Running = inspect.State.Running
			st.State = inspect.State.Status
		}
	}
	if inspect.Config != nil {
		st.Image = inspect.Config.Image
	}
	return st, nil
}

// getContainer resolves the reserved name to a container ID. The daemon's
// name filter matches substrings, so the result is narrowed to the exact
// name here.
func (m *Manager) getContainer(ctx context.Context, name string) (string, error) {
	candidates, err := m.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", err
	}
	if id, ok := exactName(candidates, name); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", mlflowbox.ErrContainerNotFound, name)
}

// exactName returns the ID of the container whose canonical name is name.
func exactName(containers []types.Container, name string) (string, bool) {
	want := "/" + strings.TrimPrefix(name, "/")
	for _, c := range containers {
		if slices.Contains(c.Names, want) {
			return c.ID, true
		}
	}
	return "", false
}

// ensureImage checks the image is present locally, pulling it if allowed.
func (m *Manager) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return err
	}
	if !m.pull {
		return fmt.Errorf("%w: %s", mlflowbox.ErrImageNotFound, imageName)
	}

	slog.Info("pulling image", "image", imageName)
	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the daemon connection. The Manager reports itself
// unavailable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = false
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// envList turns an environment map into sorted KEY=VALUE pairs, skipping
// empty values.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
