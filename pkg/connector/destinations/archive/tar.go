package archive

import (
	"archive/tar"
	"context"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// TarConfig configures a TarSink.
type TarConfig struct {
	Path string
	// Algorithm compresses the whole tar stream: compression.Zstd or
	// compression.LZ4.
	Algorithm compression.Algorithm
	Level     compression.Level
	Logger    *zap.Logger
}

var tarNames = map[compression.Algorithm]string{
	compression.Zstd: "tar.zst",
	compression.LZ4:  "tar.lz4",
}

// TarSink writes a tar stream compressed as a whole. Entries are stored
// uncompressed inside the tar, so Prepare does no work beyond sizing.
type TarSink struct {
	name   string
	out    *outputFile
	cw     io.WriteCloser
	tw     *tar.Writer
	namer  *Namer
	logger *zap.Logger

	entries atomic.Int64
	raw     atomic.Int64
}

var _ core.Sink = (*TarSink)(nil)

// NewTarSink creates the output file and the compressed tar writer over it.
func NewTarSink(cfg TarConfig) (*TarSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	name, ok := tarNames[cfg.Algorithm]
	if !ok {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "unsupported tar compression %q", cfg.Algorithm)
	}
	comp, err := compression.NewCompressor(&compression.Config{
		Algorithm: cfg.Algorithm,
		Level:     cfg.Level,
	})
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid compression settings")
	}

	out, err := createOutput(cfg.Path)
	if err != nil {
		return nil, err
	}
	cw, err := comp.NewWriter(out)
	if err != nil {
		_ = out.abort()
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to start compressed stream")
	}

	return &TarSink{
		name:   name,
		out:    out,
		cw:     cw,
		tw:     tar.NewWriter(cw),
		namer:  NewNamer(),
		logger: cfg.Logger.With(zap.String("component", "tar_sink"), zap.String("format", name)),
	}, nil
}

// Name returns "tar.zst" or "tar.lz4".
func (s *TarSink) Name() string {
	return s.name
}

// EntryName returns a unique entry name for key.
func (s *TarSink) EntryName(key, ext string) string {
	return s.namer.Name(key, ext)
}

// Prepare wraps payload unchanged.
func (s *TarSink) Prepare(name string, payload []byte) (*core.Entry, error) {
	return &core.Entry{
		Name: name,
		Data: payload,
		Size: uint64(len(payload)),
	}, nil
}

// AcceptGroup appends a prepared entry.
func (s *TarSink) AcceptGroup(ctx context.Context, e *core.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Mode:     0o644,
		Size:     int64(len(e.Data)),
		ModTime:  ModTime,
		Format:   tar.FormatPAX,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return s.out.ioError(err, "failed to add entry")
	}
	if _, err := s.tw.Write(e.Data); err != nil {
		return s.out.ioError(err, "failed to write entry")
	}

	s.entries.Add(1)
	s.raw.Add(int64(e.Size))
	s.logger.Debug("entry written",
		zap.String("entry", e.Name),
		zap.Int("rows", e.Rows),
		zap.Uint64("bytes", e.Size))
	return nil
}

// Close ends the tar stream, flushes the compressor and moves the archive
// into place.
func (s *TarSink) Close(ctx context.Context) error {
	if err := s.tw.Close(); err != nil {
		return s.out.ioError(err, "failed to finalize tar")
	}
	if err := s.cw.Close(); err != nil {
		return s.out.ioError(err, "failed to finalize compressed stream")
	}
	if err := s.out.commit(); err != nil {
		return err
	}
	s.logger.Info("archive written",
		zap.String("path", s.out.path),
		zap.Int64("entries", s.entries.Load()),
		zap.Int64("bytes", s.raw.Load()))
	return nil
}

// Abort discards the partial archive.
func (s *TarSink) Abort() error {
	return s.out.abort()
}
