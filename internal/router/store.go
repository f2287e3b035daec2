// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tierflow/tierflow/internal/util"
)

// FileStore persists learner state as a single JSON document, written
// atomically so an unclean shutdown can never leave a truncated snapshot
// behind.
type FileStore struct {
	sb   *util.StateBox
	path string
}

// NewFileStore creates a store at path, resolved against the State Box root
// when relative.
func NewFileStore(sb *util.StateBox, path string) *FileStore {
	resolved := path
	if sb != nil {
		resolved = sb.ResolvePath(path)
	}
	return &FileStore{sb: sb, path: resolved}
}

// Path returns the resolved snapshot location.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the snapshot. A missing file yields an empty state; a corrupt
// one yields an error the learner downgrades to a warning.
func (fs *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("failed to read learner state %s: %w", fs.path, err)
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse learner state %s: %w", fs.path, err)
	}
	return state, nil
}

// Save writes the snapshot atomically.
func (fs *FileStore) Save(state *State) error {
	return util.SecureWriteJSON(fs.sb, fs.path, state, nil)
}

// MemoryStore keeps learner state in memory. Used by tests and embedders
// that do not want filesystem coupling.
type MemoryStore struct {
	state *State
}

// Load implements Store.
func (ms *MemoryStore) Load() (*State, error) {
	if ms.state == nil {
		return NewState(), nil
	}
	return ms.state, nil
}

// Save implements Store.
func (ms *MemoryStore) Save(state *State) error {
	ms.state = state
	return nil
}
