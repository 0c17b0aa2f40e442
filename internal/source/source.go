// Package source resolves dataset locations to a backing store and fetches
// their bytes.
//
// Recognised locations:
//
//	path/to/file.dta, file:///abs/file.csv  local filesystem
//	s3://bucket/key                         S3 / MinIO (RCTCORE_S3_* settings)
//	memory://key                            in-memory store (tests)
//	sqlite://path, postgres://..., postgresql://...  SQL table, read by internal/infra/tabular
package source

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"rctcore/internal/infra/source/core"
	"rctcore/internal/infra/source/fs"
	"rctcore/internal/infra/source/memory"
	"rctcore/internal/infra/source/s3"
	"rctcore/internal/infra/tabular"
)

// Kind separates object stores from SQL databases.
type Kind int

const (
	// KindObject is a file-like dataset in an object store.
	KindObject Kind = iota
	// KindSQL is a table in a SQL database.
	KindSQL
)

// Location is a parsed dataset URI.
type Location struct {
	URI    string
	Kind   Kind
	Driver core.Driver // empty for KindSQL
	Root   string      // directory (fs) or bucket (s3)
	Key    string
}

// Name is the key's base name, used for format detection.
func (l Location) Name() string {
	return filepath.Base(filepath.FromSlash(l.Key))
}

// Parse classifies uri.
func Parse(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Location{}, fmt.Errorf("source: empty location")
	}
	if tabular.IsSQL(uri) {
		return Location{URI: uri, Kind: KindSQL}, nil
	}
	scheme, rest, hasScheme := strings.Cut(uri, "://")
	if !hasScheme {
		return fileLocation(uri, uri)
	}
	switch strings.ToLower(scheme) {
	case "file":
		return fileLocation(uri, rest)
	case "s3":
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("source: %q must be s3://bucket/key", uri)
		}
		return Location{URI: uri, Kind: KindObject, Driver: core.DriverS3, Root: bucket, Key: key}, nil
	case "memory":
		if rest == "" {
			return Location{}, fmt.Errorf("source: %q has no key", uri)
		}
		return Location{URI: uri, Kind: KindObject, Driver: core.DriverMemory, Key: rest}, nil
	}
	return Location{}, fmt.Errorf("source: unsupported scheme %q", scheme)
}

func fileLocation(uri, path string) (Location, error) {
	if path == "" {
		return Location{}, fmt.Errorf("source: %q has no path", uri)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	return Location{
		URI:    uri,
		Kind:   KindObject,
		Driver: core.DriverFilesystem,
		Root:   filepath.Dir(clean),
		Key:    filepath.Base(clean),
	}, nil
}

// Resolver builds stores for object locations.
type Resolver struct {
	// S3 carries region, endpoint and credentials; the bucket comes from the URI.
	S3 s3.Config
	// Memory serves memory:// locations.
	Memory *memory.Store
	// NewS3 overrides S3 store construction.
	NewS3 func(ctx context.Context, cfg s3.Config) (core.Store, error)
}

// EnvResolver reads S3 connection settings from RCTCORE_S3_* variables.
func EnvResolver() Resolver {
	return Resolver{S3: s3.ConfigFromEnv("")}
}

// Store returns the store holding loc.
func (r Resolver) Store(ctx context.Context, loc Location) (core.Store, error) {
	if loc.Kind != KindObject {
		return nil, fmt.Errorf("source: %s is not an object location", loc.URI)
	}
	switch loc.Driver {
	case core.DriverFilesystem:
		return fs.New(loc.Root)
	case core.DriverS3:
		cfg := r.S3
		cfg.Bucket = loc.Root
		if r.NewS3 != nil {
			return r.NewS3(ctx, cfg)
		}
		return s3.New(ctx, cfg)
	case core.DriverMemory:
		if r.Memory == nil {
			return nil, fmt.Errorf("source: no memory store configured for %s", loc.URI)
		}
		return r.Memory, nil
	}
	return nil, fmt.Errorf("source: unknown driver %q", loc.Driver)
}

// Dataset is a fetched object.
type Dataset struct {
	Location Location
	Info     core.Info
	Data     []byte
}

// Fetch reads the whole object at loc.
func (r Resolver) Fetch(ctx context.Context, loc Location) (Dataset, error) {
	store, err := r.Store(ctx, loc)
	if err != nil {
		return Dataset{}, err
	}
	info, rc, err := store.Get(ctx, loc.Key)
	if err != nil {
		return Dataset{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Dataset{}, fmt.Errorf("read %s: %w", loc.URI, err)
	}
	if info.Size == 0 {
		info.Size = int64(len(data))
	}
	return Dataset{Location: loc, Info: info, Data: data}, nil
}

// Open parses uri and fetches it with the environment-configured resolver.
func Open(ctx context.Context, uri string) (Dataset, error) {
	loc, err := Parse(uri)
	if err != nil {
		return Dataset{}, err
	}
	return EnvResolver().Fetch(ctx, loc)
}
