package healthxml

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

type scanned struct {
	name  string
	attrs map[string]string
}

func scanAll(t *testing.T, doc string) ([]scanned, []error) {
	t.Helper()
	s := NewScanner([]byte(doc), 0, len(doc), 0)
	var tags []scanned
	var errs []error
	for {
		tag, err := s.Next()
		if errors.Is(err, io.EOF) {
			return tags, errs
		}
		if err != nil {
			errs = append(errs, err)
			if !etlerrors.IsRecoverable(err) {
				return tags, errs
			}
			continue
		}
		st := scanned{name: string(tag.Name), attrs: map[string]string{}}
		for _, a := range tag.Attrs {
			st.attrs[string(a.Name)] = string(a.Value)
		}
		tags = append(tags, st)
	}
}

func TestScannerSkipsNonElementMarkup(t *testing.T) {
	doc := `<?xml version="1.0"?>
<!DOCTYPE HealthData [
<!-- comment with <Fake a="1"/> inside -->
<!ATTLIST Record type CDATA #REQUIRED>
<!ENTITY note "a > b">
]>
<HealthData locale="en_US">
 <!-- <Hidden/> -->
 <![CDATA[ <AlsoHidden/> ]]>
 <Record type="A" value='single'/>
 <Workout workoutActivityType="HKWorkoutActivityTypeRunning">
  <WorkoutEvent type="pause"/>
 </Workout>
</HealthData>`

	tags, errs := scanAll(t, doc)
	require.Empty(t, errs)

	var names []string
	for _, tag := range tags {
		names = append(names, tag.name)
	}
	assert.Equal(t, []string{"HealthData", "Record", "Workout", "WorkoutEvent"}, names)
	assert.Equal(t, "single", tags[1].attrs["value"])
	assert.Equal(t, "A", tags[1].attrs["type"])
}

func TestScannerRecoversFromMalformedTags(t *testing.T) {
	tests := []struct {
		name string
		bad  string
	}{
		{"unquoted value", `<Record type=A/>`},
		{"missing equals", `<Record type "A"/>`},
		{"missing whitespace", `<Record a="1"b="2"/>`},
		{"duplicate attribute", `<Record a="1" a="2"/>`},
		{"stray slash", `<Record a="1" / >`},
		{"bad start", `<1Record/>`},
		{"angle in closed value", `<Record type="A" value="1<2"/>`},
		{"tag in closed value", `<Record note="see <Fake a='1'/>"/>`},
		{"angle before space", `<Record note="a<b c" value="3">`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			doc := `<R><Before x="1"/>` + tt.bad + `<After y="2"/></R>`
			tags, errs := scanAll(t, doc)

			require.Len(t, errs, 1)
			assert.True(t, etlerrors.IsType(errs[0], etlerrors.ErrorTypeRecordParse))

			var names []string
			for _, tag := range tags {
				names = append(names, tag.name)
			}
			assert.Equal(t, []string{"R", "Before", "After"}, names)
		})
	}
}

func TestScannerResumesAtStrayAngle(t *testing.T) {
	doc := `<R><Record value="1<Next a="2"/></R>`
	tags, errs := scanAll(t, doc)

	require.Len(t, errs, 1)
	offset, _ := errs[0].(*etlerrors.Error).Detail("offset")
	assert.Equal(t, int64(3), offset)

	require.Len(t, tags, 2)
	assert.Equal(t, "Next", tags[1].name)
	assert.Equal(t, "2", tags[1].attrs["a"])
}

func TestScannerTruncation(t *testing.T) {
	tests := []string{
		`<R><Record type="A" value="1`,
		`<R><Record type="A"`,
		`<R><!-- never closed`,
		`<R><Record/><`,
		`<!DOCTYPE R [ <!ELEMENT R ANY>`,
	}
	for _, doc := range tests {
		_, errs := scanAll(t, doc)
		require.NotEmpty(t, errs, doc)
		assert.True(t, etlerrors.IsType(errs[len(errs)-1], etlerrors.ErrorTypeSourceCorrupt), doc)
	}
}

func TestScannerWindowReadsPastEnd(t *testing.T) {
	doc := []byte(`<A x="1"/><B y="2"/>`)
	s := NewScanner(doc, 0, 3, 100)

	tag, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", string(tag.Name))
	assert.Equal(t, int64(100), tag.Offset)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"plain", "plain", true},
		{"Tom &amp; Jerry", "Tom & Jerry", true},
		{"&lt;&gt;&quot;&apos;", `<>"'`, true},
		{"caf&#233;", "café", true},
		{"&#x1F600;", "\U0001F600", true},
		{"&nbsp;", "", false},
		{"a & b", "", false},
		{"&#;", "", false},
		{"&#0;", "", false},
	}
	for _, tt := range tests {
		got, ok := unescape([]byte(tt.in))
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
