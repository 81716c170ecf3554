package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpointer persists a State between subintegrations.
type Checkpointer interface {
	Save(ctx context.Context, s *State) error
}

// FileCheckpointer writes YAML snapshots to Path. The file is replaced
// atomically so a crash never leaves a truncated checkpoint.
type FileCheckpointer struct {
	Path string
}

// Save implements Checkpointer.
func (f FileCheckpointer) Save(ctx context.Context, s *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("state: checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by FileCheckpointer.
func Load(path string) (*State, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}
