// Package core defines the read-only dataset store abstraction shared by the
// filesystem, S3 and in-memory backends.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete dataset store backend.
type Driver string

const (
	// DriverFilesystem reads datasets from a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 reads datasets from an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory serves datasets held in process memory (tests).
	DriverMemory Driver = "memory"
)

// Info describes a stored dataset object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the read side of an S3-like object store. Datasets are never
// written back.
type Store interface {
	// Get returns the object metadata and its contents. Missing keys wrap ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only.
	Head(ctx context.Context, key string) (Info, error)
	Driver() Driver
}

// ErrNotFound is returned when the key does not exist in the store.
var ErrNotFound = errors.New("source: object not found")
