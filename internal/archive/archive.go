// Package archive stores exported CSV files outside the database.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Sink kinds accepted by New.
const (
	KindNone  = "none"
	KindLocal = "local"
	KindS3    = "s3"
)

// ErrInvalidKey is returned for keys that are empty or escape the sink root.
var ErrInvalidKey = errors.New("invalid archive key")

// Sink stores a named object.
type Sink interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

// Config selects and configures a sink.
type Config struct {
	Kind string

	// local
	Dir string

	// s3
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores such as MinIO
	AccessKey string // optional; the default credential chain is used when empty
	SecretKey string
}

// New builds the sink named by cfg.Kind. It returns a nil Sink for KindNone.
func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindLocal:
		l, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case KindS3:
		s, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
	}
}

// cleanKey normalises key to a relative slash path.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return cleaned, nil
}
