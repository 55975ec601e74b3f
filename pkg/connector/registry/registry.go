// Package registry maps connector names to factories. Connector packages
// register themselves from init so that importing a package is enough to make
// it available to the CLI.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/logger"
)

// ExtractorOptions configure a new extractor.
type ExtractorOptions struct {
	MinChunkSize int64
	Logger       *zap.Logger
}

// EncoderOptions configure a new encoder.
type EncoderOptions struct {
	// HeaderPolicy is "pad" or "reject".
	HeaderPolicy string
}

// SinkOptions configure a new sink.
type SinkOptions struct {
	Path   string
	Level  compression.Level
	Logger *zap.Logger
}

// ExtractorFactory creates an extractor.
type ExtractorFactory func(opts ExtractorOptions) (core.Extractor, error)

// EncoderFactory creates an encoder.
type EncoderFactory func(opts EncoderOptions) (core.Encoder, error)

// SinkFactory creates a sink writing to opts.Path.
type SinkFactory func(opts SinkOptions) (core.Sink, error)

// ConnectorInfo describes a registered connector.
type ConnectorInfo struct {
	Name         string             `json:"name"`
	Type         core.ConnectorType `json:"type"`
	Description  string             `json:"description"`
	Capabilities []string           `json:"capabilities"`
	// Extensions are output file suffixes a sink claims, longest first.
	Extensions []string `json:"extensions,omitempty"`
}

// Registry manages connector registration and instantiation.
type Registry struct {
	extractors map[string]ExtractorFactory
	encoders   map[string]EncoderFactory
	sinks      map[string]SinkFactory
	infos      map[string]*ConnectorInfo
	mu         sync.RWMutex
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]ExtractorFactory),
		encoders:   make(map[string]EncoderFactory),
		sinks:      make(map[string]SinkFactory),
		infos:      make(map[string]*ConnectorInfo),
	}
}

func (r *Registry) register(info *ConnectorInfo, add func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(info.Type) + "/" + info.Name
	if _, exists := r.infos[key]; exists {
		return etlerrors.Newf(etlerrors.ErrorTypeConfig, "%s connector %s already registered", info.Type, info.Name)
	}
	add()
	r.infos[key] = info
	logger.Get().Debug("connector registered",
		zap.String("component", "connector_registry"),
		zap.String("type", string(info.Type)),
		zap.String("name", info.Name))
	return nil
}

// RegisterExtractor registers an extractor factory.
func (r *Registry) RegisterExtractor(info *ConnectorInfo, factory ExtractorFactory) error {
	info.Type = core.ConnectorTypeExtractor
	return r.register(info, func() { r.extractors[info.Name] = factory })
}

// RegisterEncoder registers an encoder factory.
func (r *Registry) RegisterEncoder(info *ConnectorInfo, factory EncoderFactory) error {
	info.Type = core.ConnectorTypeEncoder
	return r.register(info, func() { r.encoders[info.Name] = factory })
}

// RegisterSink registers a sink factory.
func (r *Registry) RegisterSink(info *ConnectorInfo, factory SinkFactory) error {
	info.Type = core.ConnectorTypeSink
	return r.register(info, func() { r.sinks[info.Name] = factory })
}

// NewExtractor creates the named extractor.
func (r *Registry) NewExtractor(name string, opts ExtractorOptions) (core.Extractor, error) {
	r.mu.RLock()
	factory, ok := r.extractors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "extractor %q not found", name)
	}
	return factory(opts)
}

// NewEncoder creates the named encoder.
func (r *Registry) NewEncoder(name string, opts EncoderOptions) (core.Encoder, error) {
	r.mu.RLock()
	factory, ok := r.encoders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "encoder %q not found", name)
	}
	return factory(opts)
}

// NewSink creates the named sink.
func (r *Registry) NewSink(name string, opts SinkOptions) (core.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "output format %q not found", name)
	}
	return factory(opts)
}

// SinkForPath returns the name of the sink claiming the longest matching
// extension of path.
func (r *Registry) SinkForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, bestLen := "", 0
	for _, info := range r.infos {
		if info.Type != core.ConnectorTypeSink {
			continue
		}
		for _, ext := range info.Extensions {
			if len(ext) > bestLen && len(path) > len(ext) && hasSuffixFold(path, ext) {
				best, bestLen = info.Name, len(ext)
			}
		}
	}
	return best, best != ""
}

// List returns the registered connectors sorted by type and name.
func (r *Registry) List() []*ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*ConnectorInfo, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Type != infos[j].Type {
			return infos[i].Type < infos[j].Type
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Names lists the registered connectors of one type, sorted.
func (r *Registry) Names(t core.ConnectorType) []string {
	var names []string
	for _, info := range r.List() {
		if info.Type == t {
			names = append(names, info.Name)
		}
	}
	return names
}

func hasSuffixFold(s, suffix string) bool {
	tail := s[len(s)-len(suffix):]
	for i := 0; i < len(suffix); i++ {
		a, b := tail[i], suffix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Global registry functions

// RegisterExtractor registers an extractor in the global registry.
func RegisterExtractor(info *ConnectorInfo, factory ExtractorFactory) error {
	return globalRegistry.RegisterExtractor(info, factory)
}

// RegisterEncoder registers an encoder in the global registry.
func RegisterEncoder(info *ConnectorInfo, factory EncoderFactory) error {
	return globalRegistry.RegisterEncoder(info, factory)
}

// RegisterSink registers a sink in the global registry.
func RegisterSink(info *ConnectorInfo, factory SinkFactory) error {
	return globalRegistry.RegisterSink(info, factory)
}

// GetRegistry returns the global registry.
func GetRegistry() *Registry {
	return globalRegistry
}
