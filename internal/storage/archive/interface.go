// Package archive persists backtest output to a local directory or an
// S3-compatible bucket.
package archive

import (
	"context"
	"fmt"

	"github.com/newthinker/atlas-bt/internal/core"
)

// Storage defines the interface for output backends
type Storage interface {
	// Write stores data at the given path, replacing any previous object
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// Location describes where path ends up, for log and CLI output
	Location(path string) string
}

// Config selects and configures a backend
type Config struct {
	Type string // localfs or s3
	Path string // base directory for localfs
	S3   S3Config
}

// Open creates the backend named by cfg.Type
func Open(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		return NewLocalFS(cfg.Path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown output type %q", cfg.Type))
	}
}
