package schematic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// Document is the serialized form of a schematic: its command log plus the
// declarations that are not commands. It carries bson tags so it can be
// stored as-is in MongoDB.
type Document struct {
	Lib         string          `json:"lib" bson:"lib"`
	Cell        string          `json:"cell" bson:"cell"`
	Commands    []Command       `json:"commands" bson:"commands"`
	ParamVars   []string        `json:"param_vars" bson:"param_vars"`
	CDFIgnore   []string        `json:"cdf_ignore" bson:"cdf_ignore"`
	Recentering []RecenterEntry `json:"recentering,omitempty" bson:"recentering,omitempty"`
}

// RecenterEntry is one row of a serialized recentering table.
type RecenterEntry struct {
	Symbol string     `json:"symbol" bson:"symbol"` // "lib/cell"
	Offset geom.Point `json:"offset" bson:"offset"`
}

// Document returns the serializable form of s.
func (s *Schematic) Document() *Document {
	return &Document{
		Lib:         s.Lib,
		Cell:        s.Cell,
		Commands:    slices.Clone(s.commands),
		ParamVars:   nonNil(s.paramVars),
		CDFIgnore:   nonNil(s.cdfIgnore),
		Recentering: recenterEntries(s.recenter),
	}
}

// MarshalJSON encodes the schematic as its Document.
func (s *Schematic) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Document())
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return slices.Clone(v)
}

func recenterEntries(r geom.Recentering) []RecenterEntry {
	out := make([]RecenterEntry, 0, len(r))
	for k, v := range r {
		out = append(out, RecenterEntry{Symbol: k.String(), Offset: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RecenteringTable converts the document's recentering entries back to a
// table. It returns nil when the document carries none.
func (d *Document) RecenteringTable() (geom.Recentering, error) {
	if len(d.Recentering) == 0 {
		return nil, nil
	}
	r := make(geom.Recentering, len(d.Recentering))
	for _, e := range d.Recentering {
		key, err := geom.ParseSymbolKey(e.Symbol)
		if err != nil {
			return nil, err
		}
		r[key] = e.Offset
	}
	return r, nil
}

// Validate checks every command payload.
func (d *Document) Validate() error {
	for i, c := range d.Commands {
		if err := c.validate(); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "command %d", i)
		}
	}
	return nil
}

// Summary counts the elements the document would create.
func (d *Document) Summary() Summary {
	sum := Summary{Lib: d.Lib, Cell: d.Cell, ParamVars: len(d.ParamVars)}
	var nets []string
	for _, c := range d.Commands {
		switch c.Op {
		case OpAddInstance:
			sum.Instances++
		case OpAddPin:
			sum.Pins++
			nets = appendUnique(nets, c.Pin.Name)
		case OpAddWire:
			sum.Wires++
			nets = appendUnique(nets, c.Wire.Net)
		case OpAddNote:
			sum.Notes++
		}
	}
	sum.Nets = len(nets)
	return sum
}

// Hash returns the SHA-256 of the document's topology: commands,
// declarations and recentering, but not the target lib/cell. Two clones of
// one schematic hash the same.
func (d *Document) Hash() (string, error) {
	topo := *d
	topo.Lib, topo.Cell = "", ""
	data, err := json.Marshal(topo)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return cache.Hash(data), nil
}

// Hash returns the topology hash of the schematic's document.
func (s *Schematic) Hash() (string, error) {
	return s.Document().Hash()
}

// FromDocument builds a new schematic in lib/cell on be by replaying doc.
// Empty lib or cell default to the document's. When opts.Recentering is nil
// the document's table is used.
func FromDocument(ctx context.Context, be backend.Schematic, doc *Document, lib, cell string, opts Options) (*Schematic, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "document is nil")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if lib == "" {
		lib = doc.Lib
	}
	if cell == "" {
		cell = doc.Cell
	}
	if opts.Recentering == nil {
		r, err := doc.RecenteringTable()
		if err != nil {
			return nil, err
		}
		opts.Recentering = r
	}

	s, err := New(ctx, be, lib, cell, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Replay(ctx, doc.Commands); err != nil {
		return nil, err
	}
	s.AddParamVars(doc.ParamVars...)
	s.AddCDFIgnore(doc.CDFIgnore...)
	s.logger.Debug("document replayed", "lib", lib, "cell", cell, "commands", len(doc.Commands))
	return s, nil
}

// =============================================================================
// Document Serialization API
// =============================================================================

// MarshalDocument converts a document to indented JSON bytes.
func MarshalDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocumentTo(doc, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDocumentFile writes a document to a JSON file.
// The file is created with 0644 permissions.
func WriteDocumentFile(doc *Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return writeDocumentTo(doc, f)
}

// WriteDocument writes a document as JSON to an io.Writer.
func WriteDocument(doc *Document, w io.Writer) error {
	return writeDocumentTo(doc, w)
}

// ReadDocumentFile reads and validates a JSON document file.
func ReadDocumentFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readDocumentFrom(f)
}

// ReadDocument decodes and validates a JSON document from an io.Reader.
func ReadDocument(r io.Reader) (*Document, error) {
	return readDocumentFrom(r)
}

func writeDocumentTo(doc *Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

func readDocumentFrom(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
