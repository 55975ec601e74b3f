// Package archive packs rendered groups into a single output container.
//
// Entries are prepared concurrently and appended by one writer in the order
// the pipeline hands them over. Every entry carries the same fixed
// modification time, so identical input produces a byte-identical archive.
package archive

import (
	"context"
	"hash/crc32"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// ModTime is the modification time stamped on every entry.
var ModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// CreateRaw writes the MS-DOS date fields as given and ignores Modified.
var modDate, modTime = dosTime(ModTime)

// dosTime encodes t in the MS-DOS date and time format of zip headers.
func dosTime(t time.Time) (date, clock uint16) {
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return date, clock
}

// ZipConfig configures a ZipSink.
type ZipConfig struct {
	Path   string
	Level  compression.Level
	Logger *zap.Logger
}

// ZipSink writes a zip archive with one deflated entry per group.
type ZipSink struct {
	out      *outputFile
	zw       *zip.Writer
	deflater compression.Compressor
	namer    *Namer
	logger   *zap.Logger

	entries atomic.Int64
	raw     atomic.Int64
	packed  atomic.Int64
}

var _ core.Sink = (*ZipSink)(nil)

// NewZipSink creates the output file and a zip writer over it.
func NewZipSink(cfg ZipConfig) (*ZipSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	deflater, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Deflate, Level: cfg.Level})
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid compression settings")
	}
	out, err := createOutput(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &ZipSink{
		out:      out,
		zw:       zip.NewWriter(out),
		deflater: deflater,
		namer:    NewNamer(),
		logger:   cfg.Logger.With(zap.String("component", "zip_sink")),
	}, nil
}

// Name returns "zip".
func (s *ZipSink) Name() string {
	return "zip"
}

// EntryName returns a unique entry name for key.
func (s *ZipSink) EntryName(key, ext string) string {
	return s.namer.Name(key, ext)
}

// Prepare deflates payload. Payloads that do not shrink are stored.
func (s *ZipSink) Prepare(name string, payload []byte) (*core.Entry, error) {
	e := &core.Entry{
		Name:   name,
		Method: zip.Store,
		Data:   payload,
		CRC32:  crc32.ChecksumIEEE(payload),
		Size:   uint64(len(payload)),
	}
	if len(payload) == 0 {
		return e, nil
	}

	packed, err := s.deflater.Compress(payload)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to compress entry").WithDetail("entry", name)
	}
	if len(packed) < len(payload) {
		e.Method = zip.Deflate
		e.Data = packed
	}
	return e, nil
}

// AcceptGroup appends a prepared entry.
func (s *ZipSink) AcceptGroup(ctx context.Context, e *core.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hdr := &zip.FileHeader{
		Name:               e.Name,
		Method:             e.Method,
		Modified:           ModTime,
		ModifiedDate:       modDate,
		ModifiedTime:       modTime,
		CRC32:              e.CRC32,
		CompressedSize64:   uint64(len(e.Data)),
		UncompressedSize64: e.Size,
	}
	hdr.SetMode(0o644)

	w, err := s.zw.CreateRaw(hdr)
	if err != nil {
		return s.out.ioError(err, "failed to add entry")
	}
	if _, err := w.Write(e.Data); err != nil {
		return s.out.ioError(err, "failed to write entry")
	}

	s.entries.Add(1)
	s.raw.Add(int64(e.Size))
	s.packed.Add(int64(len(e.Data)))
	s.logger.Debug("entry written",
		zap.String("entry", e.Name),
		zap.Int("rows", e.Rows),
		zap.Uint64("bytes", e.Size),
		zap.Int("compressed", len(e.Data)))
	return nil
}

// Close writes the central directory and moves the archive into place.
func (s *ZipSink) Close(ctx context.Context) error {
	if err := s.zw.Close(); err != nil {
		return s.out.ioError(err, "failed to finalize zip")
	}
	if err := s.out.commit(); err != nil {
		return err
	}
	s.logger.Info("archive written",
		zap.String("path", s.out.path),
		zap.Int64("entries", s.entries.Load()),
		zap.Int64("bytes", s.raw.Load()),
		zap.Int64("compressed", s.packed.Load()))
	return nil
}

// Abort discards the partial archive.
func (s *ZipSink) Abort() error {
	return s.out.abort()
}
