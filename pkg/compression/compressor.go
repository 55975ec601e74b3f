// Package compression provides the codecs healthetl uses for archive entries,
// compressed archive streams and compressed inputs.
//
// # Overview
//
// The compression package provides:
//   - Deflate for zip entries (pre-compressed so entries can be written raw)
//   - Zstd and LZ4 for whole-stream tar containers
//   - Gzip, Zstd and LZ4 decoding of compressed inputs
//   - Pooled encoders to keep parallel entry compression allocation-light
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Deflate,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(table)
//
//	// Streaming
//	w, err := comp.NewWriter(file)
//	io.Copy(w, src)
//	w.Close()
package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "fastest":
		return Fastest, nil
	case "", "default":
		return Default, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	default:
		return 0, etlerrors.Newf(etlerrors.ErrorTypeConfig, "unknown compression level %q (fastest, default, better, best)", s)
	}
}

// Compressor provides compression and decompression functionality.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)

	// NewWriter returns a writer that compresses into w. Close flushes the
	// trailer but does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)

	// NewReader returns a reader that decompresses r.
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm

	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm   Algorithm // Compression algorithm to use
	Level       Level     // Compression level
	Concurrency int       // Encoder goroutines for zstd streams, 0 for the library default
}

// DefaultConfig returns deflate at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: Deflate,
		Level:     Default,
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None:
		return &noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config), nil
	case LZ4:
		return newLZ4Compressor(config), nil
	case Zstd:
		return newZstdCompressor(config)
	case Deflate:
		return newDeflateCompressor(config), nil
	default:
		return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "unsupported compression algorithm %q", config.Algorithm)
	}
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
}

func (bc *baseCompressor) Algorithm() Algorithm { return bc.algorithm }
func (bc *baseCompressor) Level() Level         { return bc.level }

// compressWith runs data through a fresh stream writer.
func compressWith(c Compressor, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWith(c Compressor, data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// No compression
type noneCompressor struct{}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return nc.Compress(data)
}

func (nc *noneCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (nc *noneCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (nc *noneCompressor) Algorithm() Algorithm { return None }
func (nc *noneCompressor) Level() Level         { return 0 }

// Gzip compressor
type gzipCompressor struct {
	baseCompressor
}

func newGzipCompressor(config *Config) *gzipCompressor {
	return &gzipCompressor{baseCompressor{algorithm: Gzip, level: config.Level}}
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error)   { return compressWith(gc, data) }
func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) { return decompressWith(gc, data) }

func (gc *gzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, mapDeflateLevel(gc.level))
}

func (gc *gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// LZ4 compressor
type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func newLZ4Compressor(config *Config) *lz4Compressor {
	return &lz4Compressor{
		baseCompressor:   baseCompressor{algorithm: LZ4, level: config.Level},
		compressionLevel: mapLZ4Level(config.Level),
	}
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error)   { return compressWith(lc, data) }
func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) { return decompressWith(lc, data) }

func (lc *lz4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	lw := lz4.NewWriter(w)
	if err := lw.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	return lw, nil
}

func (lc *lz4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Zstd compressor
type zstdCompressor struct {
	baseCompressor
	encoderLevel zstd.EncoderLevel
	concurrency  int
	encoderPool  sync.Pool
}

func newZstdCompressor(config *Config) (*zstdCompressor, error) {
	zc := &zstdCompressor{
		baseCompressor: baseCompressor{algorithm: Zstd, level: config.Level},
		encoderLevel:   mapZstdLevel(config.Level),
		concurrency:    config.Concurrency,
	}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zc.encoderLevel), zstd.WithEncoderConcurrency(1))
		return enc
	}
	return zc, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func (zc *zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	opts := []zstd.EOption{zstd.WithEncoderLevel(zc.encoderLevel)}
	if zc.concurrency > 0 {
		opts = append(opts, zstd.WithEncoderConcurrency(zc.concurrency))
	}
	return zstd.NewWriter(w, opts...)
}

func (zc *zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// Deflate compressor. Writers are pooled because every archive entry is
// compressed independently.
type deflateCompressor struct {
	baseCompressor
	flateLevel int
	writers    sync.Pool
}

func newDeflateCompressor(config *Config) *deflateCompressor {
	dc := &deflateCompressor{
		baseCompressor: baseCompressor{algorithm: Deflate, level: config.Level},
		flateLevel:     mapDeflateLevel(config.Level),
	}
	dc.writers.New = func() interface{} {
		w, _ := flate.NewWriter(io.Discard, dc.flateLevel)
		return w
	}
	return dc
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/4 + 64)

	w := dc.writers.Get().(*flate.Writer)
	defer dc.writers.Put(w)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	return decompressWith(dc, data)
}

func (dc *deflateCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(w, dc.flateLevel)
}

func (dc *deflateCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

// Helper functions to map compression levels

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
