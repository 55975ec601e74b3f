// Package core defines the capability interfaces that plug a data source,
// a row encoding and an output container into the pipeline.
package core

import (
	"context"

	"github.com/ajitpratap0/healthetl/pkg/models"
	"github.com/ajitpratap0/healthetl/pkg/source"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeExtractor ConnectorType = "extractor"
	ConnectorTypeEncoder   ConnectorType = "encoder"
	ConnectorTypeSink      ConnectorType = "sink"
)

// Span is a half-open byte range [Start, End) of a source.
type Span struct {
	Start int64
	End   int64
}

// Len returns the span length.
func (s Span) Len() int64 {
	return s.End - s.Start
}

// Emit receives one extracted record. It blocks while downstream is full and
// returns an error once the run is cancelled.
type Emit func(*models.Record) error

// ExtractStats summarizes one extracted span.
type ExtractStats struct {
	Records int64
	Skipped int64
	Bytes   int64
}

// Extractor turns a byte source into records.
//
// Partition splits the source into spans that each begin on a record
// boundary; Extract is then called concurrently, once per span. Malformed
// records are skipped and counted in ExtractStats. Extract returns an error
// only for failures that must end the run.
type Extractor interface {
	Name() string
	Partition(src source.ByteSource, n int) ([]Span, error)
	Extract(ctx context.Context, src source.ByteSource, span Span, emit Emit) (ExtractStats, error)
}

// EncodeStats reports header reconciliation while rendering a group.
type EncodeStats struct {
	Rows          int
	FieldsPadded  int64
	FieldsDropped int64
}

// Encoder renders a closed group into one table. Implementations must be safe
// for concurrent use.
type Encoder interface {
	// Extension is appended to the entry name, including the dot.
	Extension() string
	Encode(g *models.Group) ([]byte, EncodeStats, error)
}

// Entry is a rendered group ready to be appended to a container.
type Entry struct {
	// Name inside the container.
	Name string
	// Key of the group the entry was rendered from.
	Key string
	// Data is the payload, already compressed when Method says so.
	Data []byte
	// Method is the container-specific compression method.
	Method uint16
	CRC32  uint32
	// Size is the uncompressed payload length.
	Size uint64
	Rows int
}

// Sink writes entries into an output container.
//
// EntryName is called once per group, in container order, from a single
// goroutine; it returns a name unique within the container. Prepare may be
// called from many goroutines. AcceptGroup, Close and Abort are called from
// a single goroutine, and AcceptGroup receives entries in the order they
// must appear in the container.
type Sink interface {
	Name() string
	EntryName(key, ext string) string
	Prepare(name string, payload []byte) (*Entry, error)
	AcceptGroup(ctx context.Context, e *Entry) error
	// Close finalizes the container.
	Close(ctx context.Context) error
	// Abort releases resources and removes partial output. Safe to call
	// after a failed Close.
	Abort() error
}
