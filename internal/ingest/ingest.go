// Package ingest loads the long-format trial panel from a dataset location:
// Stata or CSV files in an object store, or a table in a SQL database.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"rctcore/internal/infra/tabular"
	"rctcore/internal/panel"
	"rctcore/internal/source"
)

// ErrLoad marks an input that could not be fetched or parsed.
var ErrLoad = errors.New("ingest: cannot load dataset")

// Format names an on-disk encoding.
type Format string

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto Format = ""
	// FormatStata is a Stata .dta file (formats 114-118).
	FormatStata Format = "dta"
	// FormatCSV is a comma-separated file with a header row.
	FormatCSV Format = "csv"
)

// DefaultTable is the SQL table read when none is configured.
const DefaultTable = "panel"

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatStata, FormatCSV:
		return f, nil
	}
	return FormatAuto, fmt.Errorf("unknown input format %q (want dta or csv)", s)
}

// Logger receives load progress.
type Logger interface {
	Info(msg string, args ...any)
}

// Options describes where and how to load the panel.
type Options struct {
	Input    string
	Format   Format
	Table    string
	Columns  panel.Columns
	Resolver *source.Resolver // nil uses source.EnvResolver
	Logger   Logger
}

// Load fetches, decodes and validates the panel named by opts.Input. Fetch
// and parse failures wrap ErrLoad; column and value problems wrap
// panel.ErrSchema.
func Load(ctx context.Context, opts Options) (panel.Panel, error) {
	loc, err := source.Parse(opts.Input)
	if err != nil {
		return panel.Panel{}, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	var cols []panel.Column
	if loc.Kind == source.KindSQL {
		cols, err = loadTable(ctx, loc, opts)
	} else {
		cols, err = loadObject(ctx, loc, opts)
	}
	if err != nil {
		return panel.Panel{}, err
	}
	return panel.Decode(loc.URI, cols, opts.Columns)
}

func loadTable(ctx context.Context, loc source.Location, opts Options) ([]panel.Column, error) {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	r, err := tabular.Open(ctx, loc.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer func() { _ = r.Close() }()
	cols, err := r.ReadTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	logf(opts.Logger, "table read", "source", loc.URI, "driver", r.Driver(), "table", table, "columns", len(cols))
	return cols, nil
}

func loadObject(ctx context.Context, loc source.Location, opts Options) ([]panel.Column, error) {
	format, err := resolveFormat(opts.Format, loc.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	resolver := source.EnvResolver()
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	}
	ds, err := resolver.Fetch(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	logf(opts.Logger, "dataset fetched", "source", loc.URI, "driver", string(loc.Driver), "format", string(format), "bytes", ds.Info.Size, "etag", ds.Info.ETag)

	var cols []panel.Column
	switch format {
	case FormatStata:
		cols, err = decodeStata(ds.Data)
	case FormatCSV:
		cols, err = decodeCSV(ds.Data, opts.Columns)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, loc.URI, err)
	}
	return cols, nil
}

func resolveFormat(f Format, name string) (Format, error) {
	if f != FormatAuto {
		return f, nil
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dta":
		return FormatStata, nil
	case ".csv":
		return FormatCSV, nil
	}
	return FormatAuto, fmt.Errorf("cannot infer format of %q; set it explicitly", name)
}

func logf(l Logger, msg string, args ...any) {
	if l != nil {
		l.Info(msg, args...)
	}
}
