package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

// =============================================================================
// inspect
// =============================================================================

// inspectOutput is the --json form of inspect.
type inspectOutput struct {
	Hash    string            `json:"hash"`
	Summary schematic.Summary `json:"summary"`
	Nets    []string          `json:"nets,omitempty"`
}

// inspectCommand creates the inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <doc.json>",
		Short: "Summarize a schematic document",
		Long: `Inspect validates a schematic document and prints its element counts
and topology hash. Use "-" to read the document from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if err := doc.Validate(); err != nil {
				return err
			}
			hash, err := doc.Hash()
			if err != nil {
				return err
			}

			// Nets are only known after replay.
			be, err := c.newBackend("")
			if err != nil {
				return err
			}
			sch, err := schematic.FromDocument(cmd.Context(), be, doc, "", "", schematic.Options{Logger: c.Logger})
			if err != nil {
				return err
			}
			out := inspectOutput{Hash: hash, Summary: sch.Summary(), Nets: sch.Nets()}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			printKeyValue("Cell", StyleHighlight.Render(doc.Lib+"/"+doc.Cell))
			printKeyValue("Commands", fmt.Sprint(len(doc.Commands)))
			printKeyValue("Hash", hash[:16])
			printSummary(out.Summary)
			if len(out.Nets) > 0 {
				printDetail("Nets: %s", strings.Join(out.Nets, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// =============================================================================
// clone
// =============================================================================

// cloneOpts holds the flags of the clone command.
type cloneOpts struct {
	lib       string
	cell      string
	workspace string
	output    string
}

// cloneCommand creates the clone command.
func (c *CLI) cloneCommand() *cobra.Command {
	var opts cloneOpts

	cmd := &cobra.Command{
		Use:   "clone <doc.json>",
		Short: "Replay a document into a new cell",
		Long: `Clone replays a schematic document into a fresh workspace, copies it to
a new lib/cell and verifies that the copy matches the source element for
element.`,
		Example: `  cellforge clone adder.json --cell adder_copy -o adder_copy.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClone(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.cell, "cell", "", "target cell (required)")
	cmd.Flags().StringVar(&opts.lib, "lib", "", "target library (default: document lib)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", "clone", "workspace of the target backend")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the cloned document to this file")
	_ = cmd.MarkFlagRequired("cell")

	return cmd
}

func (c *CLI) runClone(cmd *cobra.Command, path string, opts cloneOpts) error {
	ctx := cmd.Context()

	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	schOpts, err := c.schematicOptions()
	if err != nil {
		return err
	}
	// Recentering comes from the document, not the config.
	schOpts.Recentering = nil

	srcBE, err := c.newBackend("")
	if err != nil {
		return err
	}
	src, err := schematic.FromDocument(ctx, srcBE, doc, "", "", schOpts)
	if err != nil {
		return err
	}

	dstBE, err := c.newBackend(opts.workspace)
	if err != nil {
		return err
	}
	dst, err := src.Clone(ctx, dstBE, opts.lib, opts.cell, schOpts)
	if err != nil {
		return err
	}

	want, got := src.Summary(), dst.Summary()
	want.Lib, want.Cell = got.Lib, got.Cell
	if want != got {
		return errors.New(errors.ErrCodeInternal, "clone differs from source: %+v != %+v", got, want)
	}
	if _, err := dst.Save(ctx, schematic.SaveOptions{}); err != nil {
		return err
	}

	printSuccess("Cloned %s/%s to %s", doc.Lib, doc.Cell, StyleHighlight.Render(got.Lib+"/"+got.Cell))
	printSummary(got)
	if opts.output != "" {
		if err := schematic.WriteDocumentFile(dst.Document(), opts.output); err != nil {
			return err
		}
		printFile(opts.output)
	}
	return nil
}
