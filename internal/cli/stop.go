package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/everydev1618/mlflowbox/container"
)

// NewStopCmd creates the stop command
func NewStopCmd(app *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop and remove the MLflow tracking server container",
		Long: `Stop stops and removes the tracking server container. A missing
container is a no-op. Failures are reported but do not change the exit status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := app.newManager(false)
			if err != nil {
				return err
			}
			defer mgr.Close()

			res := mgr.Stop(cmd.Context(), name)
			out := cmd.OutOrStdout()

			switch res.Status {
			case container.TeardownRemoved:
				fmt.Fprintf(out, "%s Container '%s' stopped and removed.\n", okMark, res.Name)
			case container.TeardownNotFound:
				fmt.Fprintf(out, "No running container named '%s' was found.\n", res.Name)
			default:
				// Teardown is best effort: report the failure, exit cleanly.
				fmt.Fprintf(out, "%s Failed to stop container '%s': %v\n", failMark, res.Name, res.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", container.ContainerName, "Container name")
	return cmd
}
