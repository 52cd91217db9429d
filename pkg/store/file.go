package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

const (
	schematicsDir = "schematics"
	runsDir       = "runs"
)

// FileStore is a file-based store for CLI use. Records are stored as JSON
// files in per-kind subdirectories of a base directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates the store directories under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "store directory is required")
	}
	for _, sub := range []string{schematicsDir, runsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.baseDir }

func (s *FileStore) path(kind, id string) string {
	return filepath.Join(s.baseDir, kind, id+".json")
}

func (s *FileStore) PutSchematic(ctx context.Context, doc *schematic.Document) (string, error) {
	rec, err := newSchematicRecord(doc)
	if err != nil {
		return "", err
	}
	if err := s.write(schematicsDir, rec.ID, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *FileStore) GetSchematic(ctx context.Context, id string) (*SchematicRecord, error) {
	var rec SchematicRecord
	if err := s.read(schematicsDir, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) PutRun(ctx context.Context, rec *RunRecord) (string, error) {
	if err := prepareRun(rec); err != nil {
		return "", err
	}
	if err := s.write(runsDir, rec.ID, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *FileStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.read(runsDir, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) Close(context.Context) error { return nil }

func (s *FileStore) write(kind, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(kind, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

func (s *FileStore) read(kind, id string, v any) error {
	if err := checkID(id); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(singular(kind), id)
		}
		return fmt.Errorf("read %s: %w", kind, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "decode %s %s", singular(kind), id)
	}
	return nil
}

func singular(kind string) string {
	if kind == runsDir {
		return "run"
	}
	return "schematic"
}

var _ Store = (*FileStore)(nil)
