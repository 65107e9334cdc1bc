package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvScriptName is the default file name of the generated shell artifact.
const EnvScriptName = "mlflow_env.sh"

// RenderEnvScript returns the shell-sourceable export of the tracking URI.
func RenderEnvScript(trackingURI string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("# Generated by mlflowbox start. Source this file to point MLflow clients at the local server.\n")
	fmt.Fprintf(&b, "export MLFLOW_TRACKING_URI=%s\n", trackingURI)
	return b.String()
}

// WriteEnvScript writes the shell artifact to path, creating parent
// directories as needed.
func WriteEnvScript(path, trackingURI string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(RenderEnvScript(trackingURI)), 0o755)
}
