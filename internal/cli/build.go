package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/script"
)

// buildOpts holds the flags of the build command.
type buildOpts struct {
	output    string
	lib       string
	cell      string
	callbacks bool
	store     bool
	noCache   bool
}

// buildCommand creates the build command.
func (c *CLI) buildCommand() *cobra.Command {
	var opts buildOpts

	cmd := &cobra.Command{
		Use:   "build <script.hcl>",
		Short: "Build a schematic from an HCL script",
		Long: `Build replays an HCL script against the in-memory backend and writes the
resulting schematic document as JSON.

The document can be stored (--store) for the API server and is cached by
its topology hash.`,
		Example: `  cellforge build inverter.hcl -o inverter.json
  cellforge build adder.hcl --cell adder_tb --store`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: <cell>.json)")
	cmd.Flags().StringVar(&opts.lib, "lib", "", "target library (default: script lib)")
	cmd.Flags().StringVar(&opts.cell, "cell", "", "target cell (default: script cell)")
	cmd.Flags().BoolVar(&opts.callbacks, "callbacks", true, "run parameter callbacks and reconcile before saving")
	cmd.Flags().BoolVar(&opts.store, "store", false, "also put the document into the configured store")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "do not cache the document")

	return cmd
}

func (c *CLI) runBuild(cmd *cobra.Command, path string, opts buildOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	sch, err := c.buildScript(ctx, path, opts.lib, opts.cell)
	if err != nil {
		return err
	}

	res, err := sch.Save(ctx, schematic.SaveOptions{Callbacks: opts.callbacks})
	if err != nil {
		return err
	}
	for _, m := range res.Mismatches {
		printWarning("%s", m)
	}

	doc := sch.Document()
	out := opts.output
	if out == "" {
		out = sch.Cell + ".json"
	}
	if err := schematic.WriteDocumentFile(doc, out); err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Built %s/%s", sch.Lib, sch.Cell))

	hash, err := doc.Hash()
	if err != nil {
		return err
	}
	c.cacheDocument(cmd, hash, doc, opts.noCache)

	printSuccess("Schematic %s", StyleHighlight.Render(sch.Lib+"/"+sch.Cell))
	printSummary(sch.Summary())
	printFile(out)

	if opts.store {
		st, err := c.newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close(ctx)
		id, err := st.PutSchematic(ctx, doc)
		if err != nil {
			return err
		}
		printKeyValue("Stored", id)
	}

	printNextStep("Inspect it", fmt.Sprintf("%s inspect %s", appName, out))
	return nil
}

// buildScript builds an HCL script into an unsaved schematic. Empty lib or
// cell keep the script's own.
func (c *CLI) buildScript(ctx context.Context, path, lib, cell string) (*schematic.Schematic, error) {
	s, err := script.Load(path)
	if err != nil {
		return nil, err
	}
	be, err := c.newBackend("")
	if err != nil {
		return nil, err
	}
	schOpts, err := c.schematicOptions()
	if err != nil {
		return nil, err
	}
	sch, err := s.NewSchematic(ctx, be, lib, cell, schOpts)
	if err != nil {
		return nil, err
	}
	if err := s.Build(ctx, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

// cacheDocument stores doc under its topology hash. Failures only warn.
func (c *CLI) cacheDocument(cmd *cobra.Command, hash string, doc *schematic.Document, noCache bool) {
	ctx := cmd.Context()
	ch, err := c.newCache(ctx, noCache)
	if err != nil {
		c.Logger.Warn("cache unavailable", "error", err)
		return
	}
	defer ch.Close()

	cfg, err := c.config()
	if err != nil {
		return
	}
	ttl := cache.TTLSchematic
	if cfg.Cache.TTL.Duration > 0 {
		ttl = cfg.Cache.TTL.Duration
	}
	key := cache.NewDefaultKeyer().SchematicKey(hash)
	if err := cache.SetJSON(ctx, ch, key, doc, ttl); err != nil {
		c.Logger.Warn("cache write failed", "key", key, "error", err)
		return
	}
	c.Logger.Debug("document cached", "key", key)
}

// readDocument loads a document file given on the command line.
func readDocument(path string) (*schematic.Document, error) {
	if path == "-" {
		return schematic.ReadDocument(os.Stdin)
	}
	return schematic.ReadDocumentFile(path)
}
