// Package healthxml extracts records from an Apple Health export document.
//
// Every element below the root becomes one record whose fields are the
// element's attributes in document order. Records are grouped by their
// HealthKit type identifier (the type attribute of <Record>) or, for every
// other element, by the element name, and ordered by the first date
// attribute they carry.
//
// Extraction is zero-copy where the input allows it: field values that contain
// no entity references alias the source bytes, so records stay valid only
// while the source is open.
package healthxml

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/models"
	"github.com/ajitpratap0/healthetl/pkg/source"
)

// Name is the registry name of the extractor.
const Name = "apple-health"

// DefaultMinChunkSize keeps chunks large enough that boundary search and
// scheduling are negligible.
const DefaultMinChunkSize int64 = 2 << 20

// sortAttributes are consulted in order; the first one present is the sort key.
var sortAttributes = []string{
	"startDate",
	"date",
	"dateComponents",
	"creationDate",
	"endDate",
	"dateIssued",
	"receivedDate",
}

const maxParseWarnings = 10

// Config configures an Extractor.
type Config struct {
	// MinChunkSize is the smallest span handed to one worker.
	MinChunkSize int64
	// CopyValues copies every field value out of the source instead of
	// aliasing it.
	CopyValues bool
	Logger     *zap.Logger
}

// Extractor implements core.Extractor for Apple Health exports.
type Extractor struct {
	minChunk   int64
	copyValues bool
	logger     *zap.Logger
	warned     atomic.Int64
}

var _ core.Extractor = (*Extractor)(nil)

// NewExtractor creates an extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Extractor{
		minChunk:   cfg.MinChunkSize,
		copyValues: cfg.CopyValues,
		logger:     cfg.Logger.With(zap.String("component", "healthxml")),
	}
}

// Name returns the extractor name.
func (e *Extractor) Name() string {
	return Name
}

// Partition locates the document body and splits it into at most n spans,
// each starting on a start tag.
func (e *Extractor) Partition(src source.ByteSource, n int) ([]core.Span, error) {
	data := src.Bytes()
	doc, err := Locate(data)
	if err != nil {
		return nil, err
	}
	spans := Split(data, doc.Body, n, e.minChunk)
	e.logger.Debug("partitioned document",
		zap.String("root", doc.Root),
		zap.Int64("body_bytes", doc.Body.Len()),
		zap.Int("spans", len(spans)))
	return spans, nil
}

// Extract scans one span and emits a record per start tag.
func (e *Extractor) Extract(ctx context.Context, src source.ByteSource, span core.Span, emit core.Emit) (core.ExtractStats, error) {
	stats := core.ExtractStats{Bytes: span.Len()}
	data := src.Bytes()
	if span.Start < 0 || span.End > int64(len(data)) || span.Start > span.End {
		return stats, etlerrors.Newf(etlerrors.ErrorTypeOutOfRange,
			"span [%d, %d) outside source of %d bytes", span.Start, span.End, len(data))
	}

	b := recordBuilder{names: make(map[string]string, 64), copyValues: e.copyValues}
	s := NewScanner(data, int(span.Start), int(span.End), 0)

	for n := 0; ; n++ {
		if n&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		tag, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			if etlerrors.IsRecoverable(err) {
				stats.Skipped++
				e.logSkipped(err)
				continue
			}
			return stats, err
		}

		rec, err := b.build(tag)
		if err != nil {
			stats.Skipped++
			e.logSkipped(err)
			continue
		}
		if err := emit(rec); err != nil {
			return stats, err
		}
		stats.Records++
	}
}

func (e *Extractor) logSkipped(err error) {
	fields := []zap.Field{zap.Error(err)}
	if e.warned.Add(1) <= maxParseWarnings {
		e.logger.Warn("skipping malformed record", fields...)
		return
	}
	e.logger.Debug("skipping malformed record", fields...)
}

// recordBuilder converts tags into records. One per worker; not safe for
// concurrent use.
type recordBuilder struct {
	names      map[string]string
	copyValues bool
}

// intern returns an owned string for b, allocating once per distinct name.
func (rb *recordBuilder) intern(b []byte) string {
	if s, ok := rb.names[string(b)]; ok {
		return s
	}
	s := string(b)
	rb.names[s] = s
	return s
}

func (rb *recordBuilder) internString(v string) string {
	if s, ok := rb.names[v]; ok {
		return s
	}
	s := strings.Clone(v)
	rb.names[s] = s
	return s
}

func (rb *recordBuilder) value(a *Attr) (string, *etlerrors.Error) {
	if a.Escaped {
		v, ok := unescape(a.Value)
		if !ok {
			return "", etlerrors.New(etlerrors.ErrorTypeRecordParse, "invalid entity reference").
				WithDetail("attribute", string(a.Name))
		}
		return v, nil
	}
	if rb.copyValues || len(a.Value) == 0 {
		return string(a.Value), nil
	}
	return unsafe.String(&a.Value[0], len(a.Value)), nil
}

func (rb *recordBuilder) build(tag Tag) (*models.Record, error) {
	rec := &models.Record{
		Seq:    uint64(tag.Offset),
		Fields: make([]models.Field, len(tag.Attrs)),
	}

	elem := rb.intern(tag.Name)
	isRecord := elem == "Record"

	for i := range tag.Attrs {
		a := &tag.Attrs[i]
		name := rb.intern(a.Name)
		v, err := rb.value(a)
		if err != nil {
			return nil, err.WithDetail("offset", tag.Offset)
		}

		val := models.StringValue(v)
		if name == "value" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				val = models.NumberValue(f, v)
			}
		}
		rec.Fields[i] = models.Field{Name: name, Value: val}

		if isRecord && name == "type" && v != "" {
			rec.Key = rb.internString(v)
		}
	}
	if rec.Key == "" {
		rec.Key = elem
	}

	for _, attr := range sortAttributes {
		if v, ok := rec.Get(attr); ok {
			rec.Sort = models.ParseSortKey(v.Text)
			break
		}
	}
	return rec, nil
}
