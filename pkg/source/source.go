// Package source opens the raw input of a run as a read-only, randomly
// addressable byte range.
//
// A bare markup file is memory-mapped and exposed as is. A zip container is
// mapped too, and the markup entry is exposed either as a window into the
// container (stored entries) or, for compressed entries, materialized once into
// a temporary file which is then mapped. Stream-compressed inputs (gzip, zstd,
// lz4) are materialized the same way. Materialization costs one temporary copy
// of the uncompressed markup on disk and nothing on the heap.
package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/mmap"
)

// ByteSource is a read-only view over the input bytes. Slices returned by it
// alias the backing store and remain valid until Close.
type ByteSource interface {
	// Len returns the total length in bytes.
	Len() int64
	// Slice returns [off, off+n) or an out-of-range error.
	Slice(off, n int64) ([]byte, error)
	// Bytes returns the whole range.
	Bytes() []byte
	// Name describes the input for diagnostics.
	Name() string
	Close() error
}

// Kind describes how the bytes are backed.
type Kind string

const (
	KindMapped          Kind = "mapped"
	KindZipStored       Kind = "zip-stored"
	KindZipMaterialized Kind = "zip-materialized"
	KindDecompressed    Kind = "decompressed"
	KindMemory          Kind = "memory"
)

// Options controls how inputs are opened.
type Options struct {
	// TempDir receives materialized entries. Empty means os.TempDir().
	TempDir string
	// EntrySuffix selects the markup entry inside a zip container.
	EntrySuffix string
	Logger      *zap.Logger
}

// DefaultEntrySuffix is the well-known name of the markup entry.
const DefaultEntrySuffix = "export.xml"

// Source is the ByteSource returned by Open.
type Source struct {
	name     string
	kind     Kind
	data     []byte
	reader   *mmap.Reader
	tempPath string
}

var _ ByteSource = (*Source)(nil)

// FromBytes wraps an in-memory buffer.
func FromBytes(name string, b []byte) *Source {
	return &Source{name: name, kind: KindMemory, data: b}
}

// Open inspects path and returns a ByteSource over its markup bytes.
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EntrySuffix == "" {
		opts.EntrySuffix = DefaultEntrySuffix
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeInputNotFound, "input not found").
				WithDetail("path", path)
		}
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "cannot stat input").WithDetail("path", path)
	}
	if info.IsDir() {
		return nil, etlerrors.New(etlerrors.ErrorTypeUnreadableFormat, "input is a directory").
			WithDetail("path", path)
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "cannot map input").WithDetail("path", path)
	}

	data := r.Bytes()
	switch {
	case isZip(data):
		return openZip(ctx, path, r, opts)
	case compression.Detect(data) != compression.None:
		algo := compression.Detect(data)
		defer r.Close()
		return materialize(ctx, path, KindDecompressed, opts, func() (io.ReadCloser, error) {
			comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo})
			if err != nil {
				return nil, err
			}
			return comp.NewReader(bytes.NewReader(data))
		})
	case looksLikeMarkup(data):
		opts.Logger.Debug("mapped bare markup input",
			zap.String("path", path),
			zap.Int64("bytes", r.Len()))
		return &Source{name: path, kind: KindMapped, data: data, reader: r}, nil
	default:
		r.Close()
		return nil, etlerrors.New(etlerrors.ErrorTypeUnreadableFormat, "input is neither markup nor a supported container").
			WithDetail("path", path)
	}
}

// Len returns the total length in bytes.
func (s *Source) Len() int64 {
	return int64(len(s.data))
}

// Slice returns [off, off+n) without copying.
func (s *Source) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(s.data)) {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeOutOfRange,
			"window [%d, %d) outside [0, %d)", off, off+n, len(s.data)).WithDetail("source", s.name)
	}
	return s.data[off : off+n : off+n], nil
}

// Bytes returns the whole range.
func (s *Source) Bytes() []byte {
	return s.data
}

// Name returns the input path.
func (s *Source) Name() string {
	return s.name
}

// Kind reports how the bytes are backed.
func (s *Source) Kind() Kind {
	return s.kind
}

// Prefetch hints that [start, end) will be read soon.
func (s *Source) Prefetch(start, end int64) {
	if s.reader == nil || s.kind == KindZipStored {
		return
	}
	s.reader.Prefetch(start, end)
}

// Close releases the mapping and removes any temporary file.
func (s *Source) Close() error {
	var err error
	if s.reader != nil {
		err = s.reader.Close()
		s.reader = nil
	}
	s.data = nil
	if s.tempPath != "" {
		if rmErr := os.Remove(s.tempPath); rmErr != nil && err == nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
		s.tempPath = ""
	}
	return err
}

func isZip(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04")) || bytes.HasPrefix(b, []byte("PK\x05\x06"))
}

func looksLikeMarkup(b []byte) bool {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return true
		default:
			return false
		}
	}
	return false
}

// materialize streams a decoded entry into a temporary file and maps it.
func materialize(ctx context.Context, path string, kind Kind, opts Options, open func() (io.ReadCloser, error)) (*Source, error) {
	rc, err := open()
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeUnreadableFormat, "cannot decode input").
			WithDetail("path", path)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(opts.TempDir, "healthetl-*.xml")
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "cannot create temporary file")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: rc})
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return nil, etlerrors.Wrap(ctx.Err(), etlerrors.ErrorTypeCancelled, "materialization cancelled")
		}
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeSourceCorrupt, "cannot decompress input").
			WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "cannot write temporary file")
	}

	r, err := mmap.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "cannot map temporary file")
	}
	if !looksLikeMarkup(r.Bytes()) {
		r.Close()
		os.Remove(tmpPath)
		return nil, etlerrors.New(etlerrors.ErrorTypeUnreadableFormat, "decoded input is not markup").
			WithDetail("path", path)
	}

	opts.Logger.Info("materialized compressed input",
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.String("temp_file", tmpPath),
		zap.Int64("bytes", n))

	return &Source{name: path, kind: kind, data: r.Bytes(), reader: r, tempPath: tmpPath}, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
