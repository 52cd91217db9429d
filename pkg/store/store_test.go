package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/sim"
)

func testDocument(t *testing.T) *schematic.Document {
	t.Helper()
	ctx := context.Background()
	sch, err := schematic.New(ctx, memory.New(), "work", "inv", schematic.Options{})
	if err != nil {
		t.Fatal(err)
	}
	mn, err := sch.CreateInstance(ctx, "analogLib", "nmos4", schematic.At(0, 0), "MN0", geom.R0)
	if err != nil {
		t.Fatal(err)
	}
	if err := mn.Set(ctx, "w", schematic.String("2u")); err != nil {
		t.Fatal(err)
	}
	if _, err := sch.CreatePin(ctx, "vin", schematic.Input, schematic.At(-10, 0), geom.R0); err != nil {
		t.Fatal(err)
	}
	return sch.Document()
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFileStoreSchematic(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	doc := testDocument(t)

	id, err := s.PutSchematic(ctx, doc)
	if err != nil {
		t.Fatalf("PutSchematic: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a UUID", id)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "schematics", id+".json")); err != nil {
		t.Errorf("record file missing: %v", err)
	}

	rec, err := s.GetSchematic(ctx, id)
	if err != nil {
		t.Fatalf("GetSchematic: %v", err)
	}
	if rec.ID != id {
		t.Errorf("ID = %q, want %q", rec.ID, id)
	}
	wantHash, _ := doc.Hash()
	if rec.Hash != wantHash {
		t.Errorf("Hash = %q, want %q", rec.Hash, wantHash)
	}
	if diff := cmp.Diff(doc.Summary(), rec.Document.Summary()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	// The stored document replays into an equivalent schematic
	sch, err := schematic.FromDocument(ctx, memory.New(), rec.Document, "", "", schematic.Options{})
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	mn, err := sch.Instance("MN0")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := mn.AppliedValue("w"); !ok || v != schematic.String("2u") {
		t.Errorf("w = %v, %v; want 2u", v, ok)
	}

	// Each put gets a new id
	id2, err := s.PutSchematic(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Error("second put reused the id")
	}
}

func TestFileStoreRun(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	run := &sim.Run{
		ID:      uuid.NewString(),
		Status:  sim.StatusDegraded,
		Started: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Elapsed: 3 * time.Second,
		Diagnostics: []sim.Diagnostic{
			{Code: errors.ErrCodeSignalExtraction, Signal: "out", Message: "no data"},
		},
	}
	schID := uuid.NewString()
	id, err := s.PutRun(ctx, &RunRecord{SchematicID: schID, Run: run})
	if err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	if id != run.ID {
		t.Errorf("id = %q, want the run's id %q", id, run.ID)
	}

	rec, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.SchematicID != schID || rec.Created.IsZero() {
		t.Errorf("record = %+v", rec)
	}
	if diff := cmp.Diff(run, rec.Run); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	// A run without an id gets a fresh one
	id, err = s.PutRun(ctx, &RunRecord{Run: &sim.Run{Status: sim.StatusOK}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id %q is not a UUID", id)
	}
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	tests := []struct {
		name string
		err  func() error
		code errors.Code
	}{
		{"missing schematic", func() error {
			_, err := s.GetSchematic(ctx, uuid.NewString())
			return err
		}, errors.ErrCodeNotFound},
		{"missing run", func() error {
			_, err := s.GetRun(ctx, uuid.NewString())
			return err
		}, errors.ErrCodeNotFound},
		{"path as id", func() error {
			_, err := s.GetSchematic(ctx, "../../etc/passwd")
			return err
		}, errors.ErrCodeInvalidInput},
		{"nil document", func() error {
			_, err := s.PutSchematic(ctx, nil)
			return err
		}, errors.ErrCodeInvalidInput},
		{"invalid document", func() error {
			_, err := s.PutSchematic(ctx, &schematic.Document{Commands: []schematic.Command{{Op: schematic.OpAddInstance}}})
			return err
		}, errors.ErrCodeInvalidInput},
		{"record without run", func() error {
			_, err := s.PutRun(ctx, &RunRecord{})
			return err
		}, errors.ErrCodeInvalidInput},
		{"run with bad id", func() error {
			_, err := s.PutRun(ctx, &RunRecord{ID: "run-1", Run: &sim.Run{}})
			return err
		}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.err(); !errors.Is(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestFileStoreCorruptRecord(t *testing.T) {
	s := newFileStore(t)
	id := uuid.NewString()
	if err := os.WriteFile(filepath.Join(s.Dir(), "runs", id+".json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRun(context.Background(), id); !errors.Is(err, errors.ErrCodeInternal) {
		t.Errorf("err = %v, want INTERNAL_ERROR", err)
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore(""); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestNewMongoStoreInvalid(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMongoStore(ctx, "mongodb://localhost:27017", ""); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty database err = %v, want INVALID_INPUT", err)
	}
	if _, err := NewMongoStore(ctx, "http://localhost:27017", "cellforge"); !errors.Is(err, errors.ErrCodeBackend) {
		t.Errorf("bad scheme err = %v, want BACKEND", err)
	}
}
