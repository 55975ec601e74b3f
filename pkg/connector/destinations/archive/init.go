package archive

import (
	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink(&registry.ConnectorInfo{
		Name:         "zip",
		Description:  "Zip archive, one deflated entry per group",
		Capabilities: []string{"deterministic", "parallel_compression"},
		Extensions:   []string{".zip"},
	}, func(opts registry.SinkOptions) (core.Sink, error) {
		sink, err := NewZipSink(ZipConfig{Path: opts.Path, Level: opts.Level, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		return sink, nil
	})

	tars := []struct {
		name string
		algo compression.Algorithm
		desc string
		exts []string
	}{
		{"tar.zst", compression.Zstd, "Tar stream compressed with zstandard", []string{".tar.zst", ".tzst"}},
		{"tar.lz4", compression.LZ4, "Tar stream compressed with lz4", []string{".tar.lz4"}},
	}
	for _, t := range tars {
		t := t
		_ = registry.RegisterSink(&registry.ConnectorInfo{
			Name:         t.name,
			Description:  t.desc,
			Capabilities: []string{"deterministic", "streaming_compression"},
			Extensions:   t.exts,
		}, func(opts registry.SinkOptions) (core.Sink, error) {
			sink, err := NewTarSink(TarConfig{Path: opts.Path, Algorithm: t.algo, Level: opts.Level, Logger: opts.Logger})
			if err != nil {
				return nil, err
			}
			return sink, nil
		})
	}
}
