package healthxml

import (
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterExtractor(&registry.ConnectorInfo{
		Name:         Name,
		Description:  "Apple Health export.xml: one record per element, grouped by HealthKit type",
		Capabilities: []string{"zero_copy", "parallel_spans", "skip_malformed"},
	}, func(opts registry.ExtractorOptions) (core.Extractor, error) {
		return NewExtractor(Config{MinChunkSize: opts.MinChunkSize, Logger: opts.Logger}), nil
	})
}
