// Package models defines the records and groups that flow through the
// extraction, grouping and load stages.
//
// A Record is produced exactly once by an extraction worker and is never
// mutated afterwards. Ownership moves with the record: extraction hands it to
// the grouping stage over a channel, grouping appends it to exactly one Group,
// and the Group is moved to the load stage once the run has been finalized.
package models

import (
	"strconv"
	"time"
)

// Kind discriminates the scalar held by a Value.
type Kind uint8

const (
	// KindString is raw text.
	KindString Kind = iota
	// KindNumber is a float64 that keeps its original text for rendering.
	KindNumber
	// KindTime is a timestamp.
	KindTime
)

// TimeLayout is the timestamp layout used by Apple Health exports.
const TimeLayout = "2006-01-02 15:04:05 -0700"

// Value is a scalar field value.
type Value struct {
	Kind Kind
	Text string
	Num  float64
	Time time.Time
}

// StringValue returns a text value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Text: s}
}

// NumberValue returns a numeric value. text is the canonical rendering; when
// empty the number is formatted with the shortest representation.
func NumberValue(n float64, text string) Value {
	if text == "" {
		text = strconv.FormatFloat(n, 'f', -1, 64)
	}
	return Value{Kind: KindNumber, Num: n, Text: text}
}

// TimeValue returns a timestamp value rendered with TimeLayout.
func TimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Time: t, Text: t.Format(TimeLayout)}
}

// String renders the value for tabular output.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		if v.Text != "" {
			return v.Text
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindTime:
		if v.Text != "" {
			return v.Text
		}
		return v.Time.Format(TimeLayout)
	default:
		return v.Text
	}
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value Value
}

// Record is the unit of data moving through the pipeline.
type Record struct {
	// Key partitions records into groups. Never empty.
	Key string
	// Sort orders records within a group. The zero value means absent.
	Sort SortKey
	// Fields in source order.
	Fields []Field
	// Seq is the arrival sequence number. Extractors use the byte offset of
	// the record in the source so that it does not depend on scheduling.
	Seq uint64
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (Value, bool) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return r.Fields[i].Value, true
		}
	}
	return Value{}, false
}

// FieldNames returns the field names in order.
func (r *Record) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i := range r.Fields {
		names[i] = r.Fields[i].Name
	}
	return names
}

// Group holds every record observed for one key during a run.
type Group struct {
	Key     string
	Records []*Record
}

// Len returns the number of records in the group.
func (g *Group) Len() int {
	return len(g.Records)
}
