// Package csv renders groups as RFC 4180 delimited text.
//
// The first record of a group defines the header. Later records are aligned
// to it by field name; how a record with a different field set is handled
// depends on the HeaderPolicy.
package csv

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/models"
	"github.com/ajitpratap0/healthetl/pkg/pool"
)

// Name is the registry name of the encoder.
const Name = "csv"

// HeaderPolicy decides what happens when a record's fields differ from the
// group header.
type HeaderPolicy string

const (
	// PolicyPad fills missing fields with empty values and drops, while
	// counting, fields not in the header.
	PolicyPad HeaderPolicy = "pad"
	// PolicyReject fails the group with an encoding error.
	PolicyReject HeaderPolicy = "reject"
)

// ParsePolicy parses a policy name. The empty string means PolicyPad.
func ParsePolicy(s string) (HeaderPolicy, error) {
	switch HeaderPolicy(strings.ToLower(s)) {
	case "", PolicyPad:
		return PolicyPad, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", etlerrors.Newf(etlerrors.ErrorTypeConfig, "unknown header policy %q", s)
}

// Encoder implements core.Encoder. It is stateless and safe for concurrent
// use.
type Encoder struct {
	policy HeaderPolicy
}

var _ core.Encoder = (*Encoder)(nil)

// NewEncoder creates an encoder with the given policy.
func NewEncoder(policy HeaderPolicy) *Encoder {
	if policy == "" {
		policy = PolicyPad
	}
	return &Encoder{policy: policy}
}

// Extension returns ".csv".
func (e *Encoder) Extension() string {
	return ".csv"
}

// Policy returns the header policy.
func (e *Encoder) Policy() HeaderPolicy {
	return e.policy
}

// Encode renders the header row followed by one row per record. An empty
// group renders to nothing.
func (e *Encoder) Encode(g *models.Group) ([]byte, core.EncodeStats, error) {
	var stats core.EncodeStats
	if len(g.Records) == 0 {
		return nil, stats, nil
	}

	header := g.Records[0].FieldNames()
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return nil, stats, e.writeError(g, err)
	}

	row := pool.GetRow(len(header))
	defer pool.PutRow(row)

	for _, r := range g.Records {
		if !sameLayout(r, header) {
			padded, dropped := align(r, index, row.Values)
			if e.policy == PolicyReject {
				return nil, stats, etlerrors.Newf(etlerrors.ErrorTypeEncoding,
					"record fields do not match header: %d missing, %d unexpected", padded, dropped).
					WithDetail("group", g.Key).
					WithDetail("offset", r.Seq)
			}
			stats.FieldsPadded += int64(padded)
			stats.FieldsDropped += int64(dropped)
		} else {
			for i := range r.Fields {
				row.Values[i] = r.Fields[i].Value.String()
			}
		}
		if err := w.Write(row.Values); err != nil {
			return nil, stats, e.writeError(g, err)
		}
		stats.Rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, stats, e.writeError(g, err)
	}
	return bytes.Clone(buf.Bytes()), stats, nil
}

func (e *Encoder) writeError(g *models.Group, err error) error {
	return etlerrors.Wrap(err, etlerrors.ErrorTypeEncoding, "failed to render group").WithDetail("group", g.Key)
}

// sameLayout reports whether r carries exactly the header fields in header
// order, which is the common case.
func sameLayout(r *models.Record, header []string) bool {
	if len(r.Fields) != len(header) {
		return false
	}
	for i := range r.Fields {
		if r.Fields[i].Name != header[i] {
			return false
		}
	}
	return true
}

// align places r's values into row by header position. It returns the number
// of header fields r lacks and the number of r's fields not in the header.
func align(r *models.Record, index map[string]int, row []string) (padded, dropped int) {
	clear(row)
	matched := 0
	for i := range r.Fields {
		pos, ok := index[r.Fields[i].Name]
		if !ok {
			dropped++
			continue
		}
		row[pos] = r.Fields[i].Value.String()
		matched++
	}
	return len(row) - matched, dropped
}
