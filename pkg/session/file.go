package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRecord keeps records as a JSON object in a single file under the
// settings directory. Writes are locked and atomic so two clients on the same
// machine never interleave.
type FileRecord struct {
	path string
	lock lockConfig
	mu   sync.Mutex
}

func NewFileRecord(path string) *FileRecord {
	return &FileRecord{path: path, lock: defaultLockConfig()}
}

// Path returns the backing file.
func (r *FileRecord) Path() string {
	return r.path
}

func (r *FileRecord) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	values, err := r.read()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *FileRecord) Set(_ context.Context, key, value string) error {
	return r.update(func(values map[string]string) {
		values[key] = value
	})
}

func (r *FileRecord) Delete(_ context.Context, key string) error {
	return r.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (r *FileRecord) update(mutate func(map[string]string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	return withLock(r.path, r.lock, func() error {
		values, err := r.read()
		if err != nil {
			return err
		}
		mutate(values)

		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode session file: %w", err)
		}
		return atomicWrite(r.path, data, 0600)
	})
}

func (r *FileRecord) read() (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", r.path, err)
	}
	return values, nil
}
