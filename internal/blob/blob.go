// Package blob re-exports the artifact store abstraction and selects a driver.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"foodlab/internal/blob/core"
	infrafs "foodlab/internal/infra/blob/fs"
	inframemory "foodlab/internal/infra/blob/memory"
	infras3 "foodlab/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = infras3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Options selects and configures a driver.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured store. An empty driver defaults to fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(string(opts.Driver))))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return infrafs.New(opts.FSRoot)
	case DriverS3:
		return infras3.New(ctx, opts.S3)
	case DriverMemory:
		return inframemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return inframemory.New() }

// PutUnique stores data under key, or under key with a short unique suffix
// before the extension when key is already taken.
func PutUnique(ctx context.Context, store Store, key string, data []byte, opts PutOptions) (Info, error) {
	info, err := store.Put(ctx, key, bytes.NewReader(data), opts)
	if !errors.Is(err, ErrExists) {
		return info, err
	}
	ext := path.Ext(key)
	suffixed := fmt.Sprintf("%s_%s%s", strings.TrimSuffix(key, ext), uuid.NewString()[:8], ext)
	return store.Put(ctx, suffixed, bytes.NewReader(data), opts)
}

// ReadAll fetches the full contents of key.
func ReadAll(ctx context.Context, store Store, key string) (Info, []byte, error) {
	info, rc, err := store.Get(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Info{}, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return info, data, nil
}
