package net

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/opt"
)

// Checkpoint captures resumable training state after an epoch: the
// network parameters and the optimizer moments that produced them.
type Checkpoint struct {
	Epoch    int
	Params   []float64
	OptState opt.State
}

// Store writes checkpoints into a directory, one file per epoch.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on
// first save.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// Save encodes the checkpoint as enhancer_epoch_NNN.ckpt and returns the
// written path.
func (s *Store) Save(ck *Checkpoint) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "checkpoint dir")
	}
	path := filepath.Join(s.dir, fmt.Sprintf("enhancer_epoch_%03d.ckpt", ck.Epoch))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "checkpoint create")
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		return "", errors.Wrap(err, "checkpoint encode")
	}
	return path, nil
}

// LoadCheckpoint reads a checkpoint written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint open")
	}
	defer f.Close()

	ck := &Checkpoint{}
	if err := gob.NewDecoder(f).Decode(ck); err != nil {
		return nil, errors.Wrap(err, "checkpoint decode")
	}
	return ck, nil
}
