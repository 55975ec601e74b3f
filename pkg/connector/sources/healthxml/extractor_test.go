package healthxml

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/models"
	"github.com/ajitpratap0/healthetl/pkg/source"
	"github.com/ajitpratap0/healthetl/pkg/testutil"
)

func extractAll(t *testing.T, e *Extractor, data []byte, n int) ([]*models.Record, int64) {
	t.Helper()
	src := source.FromBytes("test", data)
	spans, err := e.Partition(src, n)
	require.NoError(t, err)

	var mu sync.Mutex
	var records []*models.Record
	var skipped int64
	var wg sync.WaitGroup
	for _, span := range spans {
		wg.Add(1)
		go func(span core.Span) {
			defer wg.Done()
			stats, err := e.Extract(context.Background(), src, span, func(r *models.Record) error {
				mu.Lock()
				records = append(records, r)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
			mu.Lock()
			skipped += stats.Skipped
			mu.Unlock()
		}(span)
	}
	wg.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, skipped
}

func TestExtractorMapsElements(t *testing.T) {
	doc := testutil.ExportRaw(
		`<ExportDate value="2024-06-01 10:00:00 +0000"/>`,
		`<Me HKCharacteristicTypeIdentifierDateOfBirth="1990-01-01"/>`,
		`<Record type="HKQuantityTypeIdentifierHeartRate" sourceName="Tom &amp; Co" unit="count/min" creationDate="2024-01-02 09:00:00 +0000" startDate="2024-01-01 08:00:00 +0000" value="72">`,
		` <MetadataEntry key="HKMetadataKeyHeartRateMotionContext" value="0"/>`,
		`</Record>`,
		`<Record sourceName="NoType" value="abc"/>`,
		`<ActivitySummary dateComponents="2024-01-01" activeEnergyBurned="0"/>`,
	)
	e := NewExtractor(Config{Logger: testutil.TestLogger(t)})
	records, skipped := extractAll(t, e, doc, 1)
	require.Zero(t, skipped)
	require.Len(t, records, 6)

	assert.Equal(t, "ExportDate", records[0].Key)
	assert.False(t, records[0].Sort.Valid)

	assert.Equal(t, "Me", records[1].Key)

	hr := records[2]
	assert.Equal(t, "HKQuantityTypeIdentifierHeartRate", hr.Key)
	assert.Equal(t, models.ParseSortKey("2024-01-01 08:00:00 +0000"), hr.Sort, "startDate wins over creationDate")
	assert.Equal(t, []string{"type", "sourceName", "unit", "creationDate", "startDate", "value"}, hr.FieldNames())
	src, _ := hr.Get("sourceName")
	assert.Equal(t, "Tom & Co", src.String())
	v, _ := hr.Get("value")
	assert.Equal(t, models.KindNumber, v.Kind)
	assert.Equal(t, 72.0, v.Num)

	assert.Equal(t, "MetadataEntry", records[3].Key)

	assert.Equal(t, "Record", records[4].Key, "record without type falls back to element name")
	v, _ = records[4].Get("value")
	assert.Equal(t, models.KindString, v.Kind)

	assert.Equal(t, "ActivitySummary", records[5].Key)
	assert.True(t, records[5].Sort.Timed)
}

func TestExtractorSkipsMalformedRecords(t *testing.T) {
	doc := testutil.ExportRaw(
		`<Record type="A" value="1"/>`,
		`<Record type="A" value=2/>`,
		`<Record type="A" note="&bogus;"/>`,
		`<Record type="A" value="3"/>`,
	)
	e := NewExtractor(Config{Logger: testutil.TestLogger(t)})
	records, skipped := extractAll(t, e, doc, 1)

	assert.Equal(t, int64(2), skipped)
	require.Len(t, records, 2)
	v1, _ := records[0].Get("value")
	v3, _ := records[1].Get("value")
	assert.Equal(t, "1", v1.String())
	assert.Equal(t, "3", v3.String())
}

func TestExtractorCountsAngleInValueOnce(t *testing.T) {
	doc := testutil.ExportRaw(
		`<Record type="A" value="1"/>`,
		`<Record type="A" value="1<2"/>`,
		`<Record type="A" note="see <Fake a='1'/>"/>`,
		`<Record type="A" value="2"/>`,
	)
	e := NewExtractor(Config{Logger: testutil.TestLogger(t)})
	records, skipped := extractAll(t, e, doc, 1)

	assert.Equal(t, int64(2), skipped)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "A", r.Key, "no record is made up from value text")
	}
}

func TestExtractorChunkingInvariance(t *testing.T) {
	doc := testutil.Synthetic(3000, 7, 1234)
	e := NewExtractor(Config{MinChunkSize: 1})

	baseline, baseSkipped := extractAll(t, e, doc, 1)
	require.Len(t, baseline, 2999)
	require.Equal(t, int64(1), baseSkipped)

	for _, n := range []int{2, 3, 8, 64} {
		n := n
		t.Run(fmt.Sprintf("spans=%d", n), func(t *testing.T) {
			records, skipped := extractAll(t, e, doc, n)
			assert.Equal(t, baseSkipped, skipped)
			require.Len(t, records, len(baseline))
			for i := range records {
				assert.Equal(t, baseline[i].Seq, records[i].Seq)
				assert.Equal(t, baseline[i].Key, records[i].Key)
			}
		})
	}
}

func TestPartitionSpansStartOnTags(t *testing.T) {
	doc := testutil.Synthetic(500, 3, -1)
	doc2, err := Locate(doc)
	require.NoError(t, err)
	assert.Equal(t, "HealthData", doc2.Root)

	spans := Split(doc, doc2.Body, 16, 1)
	require.NotEmpty(t, spans)
	assert.LessOrEqual(t, len(spans), 16)
	assert.Equal(t, doc2.Body.Start, spans[0].Start)
	assert.Equal(t, doc2.Body.End, spans[len(spans)-1].End)

	for i, s := range spans {
		assert.Less(t, s.Start, s.End)
		if i > 0 {
			assert.Equal(t, spans[i-1].End, s.Start, "spans are contiguous")
			assert.Equal(t, byte('<'), doc[s.Start])
			assert.True(t, isLetter(doc[s.Start+1]))
		}
	}
}

func TestPartitionMinChunkSize(t *testing.T) {
	doc := testutil.Synthetic(100, 3, -1)
	e := NewExtractor(Config{})
	spans, err := e.Partition(source.FromBytes("small", doc), 8)
	require.NoError(t, err)
	assert.Len(t, spans, 1, "small documents are not split below the minimum chunk size")
}

func TestLocateCorruptDocuments(t *testing.T) {
	full := string(testutil.Synthetic(10, 2, -1))
	tests := map[string]string{
		"truncated mid record": full[:len(full)/2],
		"missing root close":   full[:len(full)-len("</HealthData>\n")],
		"partial root close":   full[:len(full)-3],
		"empty":                "",
		"only prolog":          `<?xml version="1.0"?>`,
		"content after root":   full + "<Extra/>",
	}
	for name, doc := range tests {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := Locate([]byte(doc))
			require.Error(t, err)
			assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeSourceCorrupt), "got %v", err)
		})
	}
}

func TestLocateSelfClosingRoot(t *testing.T) {
	doc, err := Locate([]byte(`<?xml version="1.0"?><HealthData locale="en"/>`))
	require.NoError(t, err)
	assert.Zero(t, doc.Body.Len())
	assert.Empty(t, Split(nil, doc.Body, 4, 1))
}

func TestExtractCancelled(t *testing.T) {
	doc := testutil.Synthetic(100, 2, -1)
	e := NewExtractor(Config{})
	src := source.FromBytes("test", doc)
	spans, err := e.Partition(src, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Extract(ctx, src, spans[0], func(*models.Record) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
