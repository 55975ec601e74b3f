package models

import (
	"cmp"
	"strings"
	"time"
)

// SortKey is an optional ordering value. Keys compare totally:
// timed keys by instant, then untimed keys by text, then absent keys.
type SortKey struct {
	Valid bool
	Timed bool
	// Sec and Nsec hold the instant of a timed key. Kept apart so that
	// dates outside the int64 nanosecond range still order correctly.
	Sec  int64
	Nsec int32
	Text string
}

// NoSortKey is the absent sort key.
var NoSortKey = SortKey{}

// TimeSortKey returns a key ordered by t.
func TimeSortKey(t time.Time) SortKey {
	return SortKey{Valid: true, Timed: true, Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

// TextSortKey returns a key ordered lexicographically by s.
func TextSortKey(s string) SortKey {
	return SortKey{Valid: true, Text: s}
}

// ParseSortKey interprets s as a timestamp in TimeLayout or as a bare date,
// falling back to a text key when neither layout matches.
func ParseSortKey(s string) SortKey {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return TimeSortKey(t)
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return TimeSortKey(t)
	}
	return TextSortKey(s)
}

func (k SortKey) rank() int {
	switch {
	case !k.Valid:
		return 2
	case !k.Timed:
		return 1
	default:
		return 0
	}
}

// Compare returns -1, 0 or +1.
func (k SortKey) Compare(o SortKey) int {
	if kr, or := k.rank(), o.rank(); kr != or {
		if kr < or {
			return -1
		}
		return 1
	}
	switch {
	case !k.Valid:
		return 0
	case k.Timed:
		switch {
		case k.Sec != o.Sec:
			return cmp.Compare(k.Sec, o.Sec)
		default:
			return cmp.Compare(k.Nsec, o.Nsec)
		}
	default:
		return strings.Compare(k.Text, o.Text)
	}
}

// CompareRecords orders records by sort key, breaking ties by arrival.
func CompareRecords(a, b *Record) int {
	if c := a.Sort.Compare(b.Sort); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
