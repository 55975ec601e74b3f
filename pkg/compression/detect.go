package compression

import (
	"bytes"
	"strings"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect identifies a compressed stream by its leading magic bytes. It
// returns None when the header matches no supported stream format.
func Detect(header []byte) Algorithm {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return Zstd
	case bytes.HasPrefix(header, lz4Magic):
		return LZ4
	case bytes.HasPrefix(header, gzipMagic):
		return Gzip
	default:
		return None
	}
}

// FromExtension maps a file name suffix to the stream algorithm it implies.
func FromExtension(name string) Algorithm {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".tzst"):
		return Zstd
	case strings.HasSuffix(lower, ".lz4"):
		return LZ4
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip
	default:
		return None
	}
}
