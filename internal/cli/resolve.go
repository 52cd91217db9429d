package cli

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/connpos"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// resolveOutput is the --json form of resolve.
type resolveOutput struct {
	Anchor geom.Point `json:"anchor"`
	Label  geom.Point `json:"label"`
}

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var (
		at     string
		dir    string
		offset float64
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Compute a connection anchor and label position",
		Long: `Resolve computes where an element connected to a pin at --at would be
anchored for the given direction and offset, and where its net label
goes. Coordinates are grid units.`,
		Example: `  cellforge resolve --at 0,6 --dir above
  cellforge resolve --at -4,0 --dir left --offset 20 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePoint(at)
			if err != nil {
				return err
			}
			d, err := connpos.ParseDirection(dir)
			if err != nil {
				return err
			}
			anchor, label, err := connpos.Resolve(pos, d, offset)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(resolveOutput{Anchor: anchor, Label: label})
			}
			printKeyValue("Anchor", formatPoint(anchor))
			printKeyValue("Label", formatPoint(label))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "pin position as x,y (required)")
	cmd.Flags().StringVar(&dir, "dir", "", "direction: above, below, left, right or upright (required)")
	cmd.Flags().Float64Var(&offset, "offset", connpos.DefaultOffset, "distance from the pin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("at")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

// parsePoint parses "x,y".
func parsePoint(s string) (geom.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return geom.Point{}, errors.New(errors.ErrCodeInvalidInput, "point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geom.Point{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "point %q", s)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geom.Point{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "point %q", s)
	}
	return geom.Pt(x, y), nil
}

func formatPoint(p geom.Point) string {
	return strconv.FormatFloat(p.X, 'g', -1, 64) + ", " + strconv.FormatFloat(p.Y, 'g', -1, 64)
}
