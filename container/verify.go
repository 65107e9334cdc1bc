package container

import (
	"context"
	"path/filepath"

	"github.com/docker/docker/api/types"
)

// MountRecord is a mount as reported by the daemon after start.
type MountRecord struct {
	Type        string `json:"type" yaml:"type"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	Mode        string `json:"mode" yaml:"mode"`
	RW          bool   `json:"rw" yaml:"rw"`
}

// VerificationStatus is the outcome of checking the data mount.
type VerificationStatus string

const (
	MountVerified VerificationStatus = "verified"
	MountMismatch VerificationStatus = "mismatch"
	MountMissing  VerificationStatus = "missing"
	MountError    VerificationStatus = "error"
)

// MountVerification compares the live data mount against the expected host
// directory. It is an observation: a failed verification leaves the
// container running.
type MountVerification struct {
	Status   VerificationStatus
	Expected string
	Actual   string
	// Available lists every destination that was mounted, for diagnostics.
	Available []string
	Err       error
}

// OK reports whether the data mount matched.
func (v MountVerification) OK() bool {
	return v.Status == MountVerified
}

func (m *Manager) verify(ctx context.Context, id, dataDir string) ([]MountRecord, MountVerification) {
	inspect, err := m.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, MountVerification{Status: MountError, Expected: dataDir, Err: err}
	}
	records := mountRecords(inspect.Mounts)
	return records, VerifyMounts(records, dataDir)
}

// VerifyMounts looks for the mount at DataMountPath and compares its
// normalized source with dataDir.
func VerifyMounts(mounts []MountRecord, dataDir string) MountVerification {
	v := MountVerification{Expected: filepath.Clean(dataDir)}

	var found *MountRecord
	for i := range mounts {
		v.Available = append(v.Available, mounts[i].Destination)
		if found == nil && mounts[i].Destination == DataMountPath {
			found = &mounts[i]
		}
	}

	if found == nil {
		v.Status = MountMissing
		return v
	}

	v.Actual = filepath.Clean(found.Source)
	if v.Actual != v.Expected {
		v.Status = MountMismatch
		return v
	}
	v.Status = MountVerified
	return v
}

func mountRecords(points []types.MountPoint) []MountRecord {
	out := make([]MountRecord, 0, len(points))
	for _, p := range points {
		out = append(out, MountRecord{
			Type:        string(p.Type),
			Source:      p.Source,
			Destination: p.Destination,
			Mode:        p.Mode,
			RW:          p.RW,
		})
	}
	return out
}
