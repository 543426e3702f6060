// Package configstore provides durable mcpmgr.ConfigStore implementations.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

const (
	fileVersion = 1
	fileMode    = 0600
	dirMode     = 0755
)

type fileData struct {
	Version int                   `json:"version"`
	Servers []mcpmgr.ServerConfig `json:"servers"`
}

// FileStore persists server configurations as a JSON document. Writes go to
// a temp file in the same directory and are renamed into place, so readers
// never observe a partially written file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ mcpmgr.ConfigStore = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file and its parent
// directory are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// LoadAll reads every stored configuration. A missing file yields an empty
// set. A bare JSON array of configurations is accepted as well as the
// versioned document SaveAll writes.
func (s *FileStore) LoadAll(ctx context.Context) ([]mcpmgr.ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []mcpmgr.ServerConfig{}, nil
		}
		return nil, fmt.Errorf("read server store: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []mcpmgr.ServerConfig{}, nil
	}

	if data[0] == '[' {
		var servers []mcpmgr.ServerConfig
		if err := json.Unmarshal(data, &servers); err != nil {
			return nil, fmt.Errorf("parse server store: %w", err)
		}
		return servers, nil
	}

	var parsed fileData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse server store: %w", err)
	}
	if parsed.Version > fileVersion {
		return nil, fmt.Errorf("parse server store: unsupported version %d", parsed.Version)
	}
	if parsed.Servers == nil {
		parsed.Servers = []mcpmgr.ServerConfig{}
	}
	return parsed.Servers, nil
}

// SaveAll replaces the stored set with configs.
func (s *FileStore) SaveAll(ctx context.Context, configs []mcpmgr.ServerConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if configs == nil {
		configs = []mcpmgr.ServerConfig{}
	}
	encoded, err := json.MarshalIndent(fileData{Version: fileVersion, Servers: configs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal server store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create server store dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "servers-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp server store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp server store: %w", err)
	}
	if err := tmpFile.Chmod(fileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp server store: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp server store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp server store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace server store: %w", err)
	}
	return nil
}
