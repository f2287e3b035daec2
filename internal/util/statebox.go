// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides utility functions for the tierflow server.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StateBox manages the canonical state directory for tierflow.
// It provides centralized path resolution for all mutable application data,
// ensuring consistent handling of environment variables and preventing ghost directories.
type StateBox struct {
	rootPath string
	readOnly bool
	mu       sync.RWMutex
}

// NewStateBox creates a new StateBox instance.
// It reads TIERFLOW_STATE_DIR and TIERFLOW_READONLY from environment variables.
// If TIERFLOW_STATE_DIR is not set, it defaults to ~/.tierflow.
// If TIERFLOW_READONLY is set to "1", the StateBox operates in read-only mode.
func NewStateBox() (*StateBox, error) {
	stateDir := os.Getenv("TIERFLOW_STATE_DIR")
	if stateDir == "" {
		stateDir = "~/.tierflow"
	}

	resolvedPath, err := ExpandPath(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}

	readOnly := os.Getenv("TIERFLOW_READONLY") == "1"

	return &StateBox{
		rootPath: resolvedPath,
		readOnly: readOnly,
	}, nil
}

// NewStateBoxAt creates a StateBox rooted at an explicit directory.
// Intended for tests and embedders that manage their own state location.
func NewStateBoxAt(root string) (*StateBox, error) {
	resolvedPath, err := ExpandPath(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	return &StateBox{rootPath: resolvedPath}, nil
}

// RootPath returns the resolved State Box root directory.
func (sb *StateBox) RootPath() string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.rootPath
}

// IsReadOnly returns whether the State Box is in read-only mode.
func (sb *StateBox) IsReadOnly() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.readOnly
}

// RouterDir returns the path to the router subdirectory (learning state).
func (sb *StateBox) RouterDir() string {
	return filepath.Join(sb.RootPath(), "router")
}

// TrackerDir returns the path to the tracker subdirectory (outcome history).
func (sb *StateBox) TrackerDir() string {
	return filepath.Join(sb.RootPath(), "tracker")
}

// LogsDir returns the path to the logs subdirectory.
func (sb *StateBox) LogsDir() string {
	return filepath.Join(sb.RootPath(), "logs")
}

// ResolvePath joins a relative path with the State Box root.
// If the path is already absolute or starts with tilde, it is returned as-is after cleaning.
// Otherwise, it is joined with the State Box root directory.
func (sb *StateBox) ResolvePath(relativePath string) string {
	if relativePath == "" {
		return sb.RootPath()
	}

	if strings.HasPrefix(relativePath, "~") || filepath.IsAbs(relativePath) {
		cleaned, err := ExpandPath(relativePath)
		if err != nil {
			return filepath.Clean(relativePath)
		}
		return cleaned
	}

	return filepath.Join(sb.RootPath(), relativePath)
}

// EnsureDir creates a directory with secure permissions (0700) if it doesn't exist.
// It creates all necessary parent directories as well.
// Returns an error if the directory cannot be created.
func (sb *StateBox) EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", path)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat directory %s: %w", path, err)
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// ExpandPath expands a leading tilde to the user's home directory and
// cleans the result. Paths without a tilde are cleaned as-is.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Clean(path), nil
}
