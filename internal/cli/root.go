package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/buildinfo"
)

// RootCommand creates the root cobra command with all subcommands registered.
//
// Persistent flags:
//   - --config: configuration file (default: $XDG_CONFIG_HOME/cellforge/config.toml)
//   - --verbose (-v): debug-level logging
//
// The configuration is loaded before any subcommand runs, so a malformed
// file fails every command up front.
func (c *CLI) RootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          appName,
		Short:        "Cellforge builds schematics programmatically and sweeps them",
		Long:         `Cellforge places instances, pins and wires from HCL scripts, replays schematic documents into isolated workspaces, and evaluates parameter sweeps across parallel workers.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := LogInfo
			if verbose {
				level = LogDebug
			}
			c.SetLogLevel(level)
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))

			cfg, err := c.config()
			if err != nil {
				return err
			}
			c.Logger.Debug("config loaded", "path", c.configPath, "cache", cfg.Cache.Backend, "store", cfg.Store.Backend)
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/cellforge/config.toml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.buildCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.cloneCommand())
	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.stimuliCommand())
	root.AddCommand(c.partitionCommand())
	root.AddCommand(c.sweepCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}
