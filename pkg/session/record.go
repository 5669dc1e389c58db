package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/atelier/pkg/config"
)

// ErrNotFound is returned by a Record when the key has never been written
// or was deleted.
var ErrNotFound = errors.New("session record not found")

// Record is the durable per-user key/value store that outlives the process.
type Record interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RecordKey returns the key under which a user's active project is kept.
func RecordKey(userID string) string {
	return "active_project_id_" + userID
}

// NewRecord builds the record selected by session.store.
func NewRecord(cfg config.SessionConfig) (Record, error) {
	switch cfg.Store {
	case "file", "":
		return NewFileRecord(cfg.File), nil
	case "redis":
		return NewRedisRecord(cfg.Redis), nil
	case "memory":
		return NewMemoryRecord(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
