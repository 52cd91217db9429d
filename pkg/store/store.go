// Package store persists schematic documents and simulation runs.
//
// Two backends implement [Store]:
//   - [FileStore]: JSON files under a data directory, for the CLI
//   - [MongoStore]: MongoDB collections, for the API server
//
// Records are addressed by UUIDv4 identifiers. Looking up an identifier that
// was never stored returns an error with code NOT_FOUND:
//
//	id, err := st.PutSchematic(ctx, sch.Document())
//	...
//	doc, err := st.GetSchematic(ctx, id)
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // unknown id
//	}
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/sim"
)

// Store is the interface for document persistence backends.
type Store interface {
	// PutSchematic stores doc under a new identifier.
	PutSchematic(ctx context.Context, doc *schematic.Document) (string, error)

	// GetSchematic returns the record stored under id.
	GetSchematic(ctx context.Context, id string) (*SchematicRecord, error)

	// PutRun stores a run record. An empty ID is assigned from the run's
	// own ID, or a new identifier when the run has none.
	PutRun(ctx context.Context, rec *RunRecord) (string, error)

	// GetRun returns the run record stored under id.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// SchematicRecord is a stored schematic document.
type SchematicRecord struct {
	ID       string              `json:"id" bson:"_id"`
	Hash     string              `json:"hash" bson:"hash"` // Topology hash of Document
	Created  time.Time           `json:"created" bson:"created"`
	Document *schematic.Document `json:"document" bson:"document"`
}

// RunRecord is a stored simulation run.
type RunRecord struct {
	ID          string    `json:"id" bson:"_id"`
	SchematicID string    `json:"schematic_id,omitempty" bson:"schematic_id,omitempty"`
	Created     time.Time `json:"created" bson:"created"`
	Run         *sim.Run  `json:"run" bson:"run"`
}

// newSchematicRecord validates doc and wraps it in a record with a fresh ID.
func newSchematicRecord(doc *schematic.Document) (*SchematicRecord, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "document is nil")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	hash, err := doc.Hash()
	if err != nil {
		return nil, err
	}
	return &SchematicRecord{
		ID:       uuid.NewString(),
		Hash:     hash,
		Created:  time.Now().UTC(),
		Document: doc,
	}, nil
}

// prepareRun fills in the record's ID and creation time.
func prepareRun(rec *RunRecord) error {
	if rec == nil || rec.Run == nil {
		return errors.New(errors.ErrCodeInvalidInput, "run record has no run")
	}
	if rec.ID == "" {
		rec.ID = rec.Run.ID
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := checkID(rec.ID); err != nil {
		return err
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now().UTC()
	}
	return nil
}

// checkID rejects identifiers that are not UUIDs. FileStore relies on this
// to keep identifiers out of path syntax.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid id %q", id)
	}
	return nil
}

func notFound(kind, id string) error {
	return errors.New(errors.ErrCodeNotFound, "%s %s not found", kind, id)
}
