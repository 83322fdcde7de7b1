package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "examples",
		Short:       "Show common workflow examples",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflow Examples")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "First Run",
					commands: []string{
						"floor config path               # Where floor.toml lives",
						"floor config validate           # Check traders and collaborators",
						"floor config show --yaml        # Effective settings",
					},
				},
				{
					title: "Sessions",
					commands: []string{
						"floor run --watch               # Trade and follow the log",
						"floor run --interval 5          # Tick every 5 minutes",
						"floor run --run-when-closed     # Ignore market hours",
						"floor run --ticks 1 --json      # One tick, summary as JSON",
					},
				},
				{
					title: "History",
					commands: []string{
						"floor runs                      # Archived sessions",
						"floor logs --trader warren      # One trader's activity",
						"floor logs --category account   # Orders and valuations",
						"floor accounts                  # Positions at the end of a run",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n", output.Green(strings.TrimSpace(parts[0])), output.DimText(strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Green(c))
					}
				}
				output.Println()
			}

			return nil
		},
	}
}
