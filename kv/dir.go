package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Dir is a Store that keeps every value in its own file inside a directory.
// Writes go to a temporary file that is renamed over the destination so a
// crash never leaves a half-written value behind.
//
// Update is atomic only within a process: two processes sharing a directory
// can lose index updates.
type Dir struct {
	dir string
	mu  sync.Mutex
}

var (
	_ Store   = &Dir{}
	_ Updater = &Dir{}
)

// NewDir creates dir if it doesn't exist
func NewDir(dir string) (*Dir, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Dir{dir: dir}, nil
}

// Path returns the file a key is stored in
func (s *Dir) Path(key string) string {
	// QueryEscape leaves '.' alone, so "." and ".." need special casing
	name := url.QueryEscape(key)
	switch name {
	case ".":
		name = "%2E"
	case "..":
		name = "%2E%2E"
	}
	return filepath.Join(s.dir, name)
}

func (s *Dir) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	d, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Dir) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return writeFileAtomic(s.Path(key), value)
}

func (s *Dir) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	old, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	v, err := fn(old)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, v)
}

// writeFileAtomic writes d to a temp file in the same directory and renames
// it to path. The temp file is removed on any failure.
func writeFileAtomic(path string, d []byte) (err error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	tmpFile, err := os.CreateTemp(dir, name+".tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(tmpPath)
		}
	}()

	_, errWrite := tmpFile.Write(d)
	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()
	for _, e := range []error{errWrite, errSync, errClose} {
		if e != nil {
			return fmt.Errorf("writing '%s' failed with '%w'", path, e)
		}
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	didRename = true

	// sync directory after rename so the new entry survives a crash
	fdir, _ := os.Open(dir)
	if fdir != nil {
		_ = fdir.Sync()
		_ = fdir.Close()
	}
	return nil
}
