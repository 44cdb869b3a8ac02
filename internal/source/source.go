// Package source turns files, standard input and HTTP downloads into record
// streams. Every reader in this package implements driver.Source: Next
// returns io.EOF at the end of input and a *errs.ParseError for a malformed
// unit, after which reading can continue.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"pipekit/internal/record"
	"pipekit/internal/textutil"
)

// Format names an input encoding.
type Format string

const (
	Lines Format = "lines"
	CSV   Format = "csv"
	JSONL Format = "jsonl"
	JSON  Format = "json"
)

// Formats lists the supported input formats.
var Formats = []Format{Lines, CSV, JSONL, JSON}

// Options configures Open. Only the block matching Format is consulted.
type Options struct {
	Format Format
	// Path is a local file, "-" for standard input, or an http(s) URL.
	Path string
	// Compression is "gzip", "zstd", "lz4" or "none". Empty picks by the
	// path extension (.gz, .zst, .lz4).
	Compression string

	Lines LineOptions
	CSV   CSVOptions
	JSON  JSONOptions
	HTTP  HTTPConfig
}

// reader is the format-specific part of a File.
type reader interface {
	Next(ctx context.Context) (record.Record, error)
}

// File is an opened input. It must be closed.
type File struct {
	r       reader
	closers []io.Closer
}

// stdin is swapped by tests.
var stdin io.Reader = os.Stdin

// Open opens opts.Path, undoes any compression and decodes it as
// opts.Format.
func Open(ctx context.Context, opts Options) (*File, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("source: path must not be empty")
	}
	f := &File{}
	raw, err := openInput(ctx, opts)
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, raw)

	in, zc, err := decompress(raw, opts.Compression, opts.Path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if zc != nil {
		f.closers = append(f.closers, zc)
	}

	name := displayName(opts.Path)
	switch opts.Format {
	case Lines, "":
		lr, err := NewLines(in, name, opts.Lines)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.r = lr
	case CSV:
		f.r = NewCSV(in, name, opts.CSV)
	case JSONL:
		f.r = NewJSONL(in, name)
	case JSON:
		f.r = NewJSON(in, name, opts.JSON)
	default:
		_ = f.Close()
		return nil, fmt.Errorf("source: unknown format %q", opts.Format)
	}
	return f, nil
}

// Next returns the next record.
func (f *File) Next(ctx context.Context) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	return f.r.Next(ctx)
}

// Close releases the decompressor and the underlying input.
func (f *File) Close() error {
	var first error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	f.closers = nil
	return first
}

func openInput(ctx context.Context, opts Options) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	switch {
	case opts.Path == "-":
		return io.NopCloser(stdin), nil
	case isURL(opts.Path):
		return NewClient(opts.HTTP).Open(ctx, opts.Path)
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	return f, nil
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// decompress wraps r according to codec, or the extension of name when
// codec is empty. The returned closer, when non-nil, releases the decoder.
func decompress(r io.Reader, codec, name string) (io.Reader, io.Closer, error) {
	if codec == "" {
		if i := strings.IndexByte(name, '?'); i >= 0 && isURL(name) {
			name = name[:i]
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".gz", ".gzip":
			codec = "gzip"
		case ".zst", ".zstd":
			codec = "zstd"
		case ".lz4":
			codec = "lz4"
		default:
			codec = "none"
		}
	}
	switch strings.ToLower(codec) {
	case "none":
		return r, nil, nil
	case "gzip", "gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return zr, zr, nil
	case "zstd", "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd %s: %w", name, err)
		}
		rc := zr.IOReadCloser()
		return rc, rc, nil
	case "lz4":
		return lz4.NewReader(r), nil, nil
	}
	return nil, nil, fmt.Errorf("source: unknown compression %q", codec)
}

func displayName(p string) string {
	if p == "-" {
		return "stdin"
	}
	return p
}

// lineNormalizer builds the per-line cleanup for the lines format.
func lineNormalizer(o LineOptions) (*textutil.Normalizer, error) {
	return textutil.NewNormalizer(textutil.NormalizeOptions{
		Collapse:     o.Collapse,
		StripOrdinal: o.StripOrdinal,
		Case:         o.Case,
	})
}
