// Package kv is the persistence port for client state: usage records, the
// dialogue counter and chat threads. Writes are last-write-wins and there are
// no cross-key transactions; concurrent processes sharing a backend race.
package kv

import (
	"context"
	"fmt"
	"io"

	"github.com/anima/anima-backend/internal/config"
)

// Store is a string-keyed, string-valued persistent map.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the backend selected by cfg.Driver. The returned closer
// releases it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, io.Closer, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return NewMemory(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
