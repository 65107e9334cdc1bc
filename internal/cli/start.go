package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/everydev1618/mlflowbox/config"
	"github.com/everydev1618/mlflowbox/container"
)

// NewStartCmd creates the start command
func NewStartCmd(app *App) *cobra.Command {
	var pull bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start (or restart) the MLflow tracking server container",
		Long: `Start validates the host data directory and port, removes any existing
tracking server container, starts a fresh one and checks its data mount.
A shell script exporting MLFLOW_TRACKING_URI is written next to the env file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			mgr, err := app.newManager(pull)
			if err != nil {
				return err
			}
			defer mgr.Close()

			out := cmd.OutOrStdout()
			printStartConfig(out, cfg)

			dep, err := mgr.EnsureRunning(cmd.Context(), cfg.ContainerSpec())
			if dep != nil {
				printDeployment(out, dep)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", false, "Pull the image if it is not present locally")
	return cmd
}

func printStartConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, headingStyle.Render("Container Configuration"))
	table := tablewriter.NewWriter(w)
	table.Header("Setting", "Value")
	table.Append([]string{"Container name", container.ContainerName})
	table.Append([]string{"Image", cfg.Image})
	table.Append([]string{"Host port", strconv.Itoa(cfg.Port)})
	table.Append([]string{"Host data directory", displayDataDir(cfg.DataDir)})
	table.Append([]string{"Container mount point", container.DataMountPath})
	table.Append([]string{"Backend store URI", orNone(cfg.BackendStoreURI)})
	table.Append([]string{"Artifact root", orNone(cfg.ArtifactRoot)})
	table.Render()
}

func printDeployment(w io.Writer, dep *container.Deployment) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s Container started: %s (%s)\n", okMark, dep.Name, shortID(dep.ContainerID))
	if dep.Replaced {
		fmt.Fprintf(w, "%s Replaced previous container\n", okMark)
	}
	fmt.Fprintf(w, "%s MLflow running at %s\n", okMark, dep.TrackingURI)
	fmt.Fprintf(w, "%s Volume mount: %s -> %s\n", okMark, dep.DataDir, container.DataMountPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("Volume Mount Verification"))
	printVerification(w, dep.Verification)

	if dep.EnvScript != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "To use MLflow CLI with this server, run:")
		fmt.Fprintln(w, hintStyle.Render("  source "+filepath.Base(dep.EnvScript)))
	}
}

func printVerification(w io.Writer, v container.MountVerification) {
	switch v.Status {
	case container.MountVerified:
		fmt.Fprintf(w, "  %s Mount source verified: %s\n", okMark, v.Actual)
	case container.MountMismatch:
		fmt.Fprintf(w, "  %s Mount source mismatch\n", warnMark)
		fmt.Fprintf(w, "    Expected: %s\n", v.Expected)
		fmt.Fprintf(w, "    Actual:   %s\n", v.Actual)
	case container.MountMissing:
		fmt.Fprintf(w, "  %s %s mount not found in container\n", warnMark, container.DataMountPath)
		fmt.Fprintf(w, "    Available mounts: %v\n", v.Available)
	default:
		fmt.Fprintf(w, "  %s Could not verify volume mount: %v\n", warnMark, v.Err)
	}
}

// displayDataDir shows the data directory the way the manager will resolve
// it, without creating anything.
func displayDataDir(dir string) string {
	expanded, err := container.ExpandUser(dir)
	if err != nil {
		return dir
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return expanded
	}
	return abs
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
