package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Prolog is the declaration and DOCTYPE header of an Apple Health export,
// including an internal subset with comments and '>' characters.
const Prolog = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE HealthData [
<!-- HealthKit Export Version: 13 -->
<!ELEMENT HealthData (ExportDate,Me,(Record|Correlation|Workout|ActivitySummary|ClinicalRecord)*)>
<!ATTLIST HealthData
  locale CDATA #REQUIRED
>
<!ELEMENT Record ((MetadataEntry|HeartRateVariabilityMetadataList)*)>
<!ATTLIST Record
  type          CDATA #REQUIRED
  unit          CDATA #IMPLIED
  value         CDATA #IMPLIED
  startDate     CDATA #REQUIRED
  endDate       CDATA #REQUIRED
>
]>
`

// Attr is one attribute of a synthetic element.
type Attr struct {
	Name  string
	Value string
}

// Element is a synthetic export element rendered as a self-closing tag.
type Element struct {
	Name  string
	Attrs []Attr
}

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// XML renders the element.
func (e Element) XML() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(e.Name)
	for _, a := range e.Attrs {
		b.WriteString(" ")
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.Value))
		b.WriteString(`"`)
	}
	b.WriteString("/>")
	return b.String()
}

// Rec is a <Record> of the given HealthKit type.
func Rec(typ, startDate, value string) Element {
	return Element{Name: "Record", Attrs: []Attr{
		{"type", typ},
		{"sourceName", "Watch"},
		{"unit", "count"},
		{"startDate", startDate},
		{"endDate", startDate},
		{"value", value},
	}}
}

// Export wraps elements in a complete export document.
func Export(elems ...Element) []byte {
	lines := make([]string, len(elems))
	for i, e := range elems {
		lines[i] = e.XML()
	}
	return ExportRaw(lines...)
}

// ExportRaw wraps pre-rendered element lines, which may be malformed, in a
// complete export document.
func ExportRaw(lines ...string) []byte {
	var b bytes.Buffer
	b.WriteString(Prolog)
	b.WriteString("<HealthData locale=\"en_US\">\n")
	for _, l := range lines {
		b.WriteString(" ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("</HealthData>\n")
	return b.Bytes()
}

// SyntheticBase is the first timestamp used by Synthetic.
var SyntheticBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SyntheticType names the record type of synthetic record i.
func SyntheticType(i, types int) string {
	return fmt.Sprintf("HKQuantityTypeIdentifierMetric%02d", i%types)
}

// Synthetic builds an export of n records spread over the given number of
// types. Start dates are shuffled relative to document order so that grouping
// has to reorder. When malformed is in [0, n) that record is emitted with an
// unquoted attribute value.
func Synthetic(n, types, malformed int) []byte {
	var b bytes.Buffer
	b.Grow(len(Prolog) + n*190)
	b.WriteString(Prolog)
	b.WriteString("<HealthData locale=\"en_US\">\n")

	for i := 0; i < n; i++ {
		ts := SyntheticBase.Add(time.Duration((i*7919)%n) * time.Second).Format("2006-01-02 15:04:05 -0700")
		if i == malformed {
			fmt.Fprintf(&b, " <Record type=%s startDate=\"%s\" value=\"%d\"/>\n", SyntheticType(i, types), ts, i)
			continue
		}
		b.WriteString(" <Record type=\"")
		b.WriteString(SyntheticType(i, types))
		b.WriteString("\" sourceName=\"Watch\" unit=\"count\" startDate=\"")
		b.WriteString(ts)
		b.WriteString("\" endDate=\"")
		b.WriteString(ts)
		b.WriteString("\" value=\"")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\"/>\n")
	}
	b.WriteString("</HealthData>\n")
	return b.Bytes()
}

// WriteFile writes content into a fresh file under the test's temp dir.
func WriteFile(t testing.TB, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}
