package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

var sample = []byte(strings.Repeat("type,startDate,value\nHKQuantityTypeIdentifierStepCount,2024-01-01 08:00:00 +0000,12\n", 200))

func TestRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{None, Gzip, LZ4, Zstd, Deflate} {
		algo := algo
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo, Level: Default})
			if err != nil {
				t.Fatalf("NewCompressor: %v", err)
			}
			if comp.Algorithm() != algo {
				t.Errorf("Algorithm() = %s, want %s", comp.Algorithm(), algo)
			}

			compressed, err := comp.Compress(sample)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if algo != None && len(compressed) >= len(sample) {
				t.Errorf("compressed size %d not smaller than %d", len(compressed), len(sample))
			}

			got, err := comp.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, sample) {
				t.Fatal("round trip mismatch")
			}
		})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, LZ4, Zstd, Deflate} {
		algo := algo
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo, Level: Fastest})
			if err != nil {
				t.Fatalf("NewCompressor: %v", err)
			}

			var buf bytes.Buffer
			w, err := comp.NewWriter(&buf)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if _, err := w.Write(sample); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if algo != Deflate {
				if got := Detect(buf.Bytes()); got != algo {
					t.Errorf("Detect() = %s, want %s", got, algo)
				}
			}

			r, err := comp.NewReader(&buf)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, sample) {
				t.Fatal("stream round trip mismatch")
			}
		})
	}
}

func TestDeflateCompressIsDeterministic(t *testing.T) {
	comp, _ := NewCompressor(&Config{Algorithm: Deflate, Level: Default})
	a, _ := comp.Compress(sample)
	b, _ := comp.Compress(sample)
	if !bytes.Equal(a, b) {
		t.Fatal("pooled deflate writers must produce identical output")
	}
}

func TestFromExtension(t *testing.T) {
	tests := map[string]Algorithm{
		"out.tar.zst":   Zstd,
		"out.TZST":      Zstd,
		"out.tar.lz4":   LZ4,
		"export.xml.gz": Gzip,
		"out.zip":       None,
	}
	for name, want := range tests {
		if got := FromExtension(name); got != want {
			t.Errorf("FromExtension(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	if _, err := NewCompressor(&Config{Algorithm: "brotli"}); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if _, err := ParseLevel("extreme"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
