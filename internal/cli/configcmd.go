package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/everydev1618/mlflowbox"
)

// NewConfigCmd creates the config command
func NewConfigCmd(app *App) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the tracking and registry URIs runs are sent to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}

			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			sc := mlflowbox.NewTracker(cfg.TrackerConfig()).ServerConfig()
			out := cmd.OutOrStdout()
			if output == "yaml" {
				return yaml.NewEncoder(out).Encode(sc)
			}
			printServerConfig(out, sc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}

// printServerConfig prints one key:value line per endpoint, sorted by key.
func printServerConfig(w io.Writer, sc mlflowbox.ServerConfig) {
	m := sc.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s:%s\n", k, m[k])
	}
}
