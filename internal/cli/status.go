package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/everydev1618/mlflowbox/container"
)

// statusView is the serialized form of the status command.
type statusView struct {
	Name    string                  `yaml:"name"`
	Exists  bool                    `yaml:"exists"`
	ID      string                  `yaml:"id,omitempty"`
	Running bool                    `yaml:"running"`
	State   string                  `yaml:"state,omitempty"`
	Image   string                  `yaml:"image,omitempty"`
	Created string                  `yaml:"created,omitempty"`
	Mounts  []container.MountRecord `yaml:"mounts,omitempty"`
}

// NewStatusCmd creates the status command
func NewStatusCmd(app *App) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the tracking server container state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}

			mgr, err := app.newManager(false)
			if err != nil {
				return err
			}
			defer mgr.Close()

			st, err := mgr.Status(cmd.Context(), container.ContainerName)
			if err != nil {
				return err
			}

			view := statusView{
				Name:    st.Name,
				Exists:  st.Exists(),
				ID:      st.ContainerID,
				Running: st.Running,
				State:   st.State,
				Image:   st.Image,
				Mounts:  st.Mounts,
			}
			if !st.Created.IsZero() {
				view.Created = st.Created.Format(time.RFC3339)
			}

			out := cmd.OutOrStdout()
			if output == "yaml" {
				return yaml.NewEncoder(out).Encode(view)
			}
			printStatus(out, view)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}

func printStatus(w io.Writer, v statusView) {
	if !v.Exists {
		fmt.Fprintf(w, "%s No container named '%s'\n", failMark, v.Name)
		return
	}

	mark := okMark
	if !v.Running {
		mark = warnMark
	}
	fmt.Fprintf(w, "%s %s is %s\n", mark, v.Name, v.State)

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	table.Append([]string{"ID", v.ID})
	table.Append([]string{"Image", v.Image})
	table.Append([]string{"Created", v.Created})
	for _, m := range v.Mounts {
		mode := "ro"
		if m.RW {
			mode = "rw"
		}
		table.Append([]string{"Mount", fmt.Sprintf("%s -> %s (%s, %s)", m.Source, m.Destination, m.Type, mode)})
	}
	table.Render()
}

func checkOutput(output string) error {
	switch output {
	case "text", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or yaml)", output)
	}
}
