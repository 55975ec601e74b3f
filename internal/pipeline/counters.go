package pipeline

import (
	"sync/atomic"
)

// Counters are the per-run accumulators. Each stage mutates its own fields
// atomically; the orchestrator reads them once through Snapshot.
type Counters struct {
	RecordsExtracted atomic.Int64
	RecordsSkipped   atomic.Int64
	RecordsGrouped   atomic.Int64
	GroupsEmitted    atomic.Int64
	EntriesWritten   atomic.Int64
	BytesRead        atomic.Int64
	FieldsPadded     atomic.Int64
	FieldsDropped    atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	RecordsExtracted int64 `json:"records_extracted"`
	RecordsSkipped   int64 `json:"records_skipped"`
	RecordsGrouped   int64 `json:"records_grouped"`
	GroupsEmitted    int64 `json:"groups_emitted"`
	EntriesWritten   int64 `json:"entries_written"`
	BytesRead        int64 `json:"bytes_read"`
	FieldsPadded     int64 `json:"fields_padded"`
	FieldsDropped    int64 `json:"fields_dropped"`
}

// Snapshot loads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RecordsExtracted: c.RecordsExtracted.Load(),
		RecordsSkipped:   c.RecordsSkipped.Load(),
		RecordsGrouped:   c.RecordsGrouped.Load(),
		GroupsEmitted:    c.GroupsEmitted.Load(),
		EntriesWritten:   c.EntriesWritten.Load(),
		BytesRead:        c.BytesRead.Load(),
		FieldsPadded:     c.FieldsPadded.Load(),
		FieldsDropped:    c.FieldsDropped.Load(),
	}
}
