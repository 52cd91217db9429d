package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/stimulus"
)

// stimuliCommand creates the stimuli command.
func (c *CLI) stimuliCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stimuli <stim.toml>",
		Short: "Generate a stimulus file from TOML",
		Long: `Stimuli converts bit, PWL and DC source definitions into simulator
stimulus lines. Without -o the lines are written to stdout.`,
		Example: `  cellforge stimuli inputs.toml -o inputs.scs`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := stimulus.LoadTOML(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return stimulus.Write(cmd.OutOrStdout(), f.Stimuli, f.Defaults)
			}
			if err := stimulus.WriteFile(output, f.Stimuli, f.Defaults); err != nil {
				return err
			}
			printSuccess("Wrote %s", fmt.Sprintf("%d stimuli", len(f.Stimuli)))
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}
