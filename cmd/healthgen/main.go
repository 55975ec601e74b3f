// Command healthgen writes a synthetic Apple Health export for load testing
// healthetl. The output is compressed according to its extension: .zip wraps
// the document the way the Health app does, .gz, .zst and .lz4 compress the
// bare export.xml.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/ajitpratap0/healthetl/pkg/compression"
)

var (
	records   = flag.Int("records", 1_000_000, "Number of Record elements")
	types     = flag.Int("types", 40, "Number of distinct record types")
	output    = flag.String("o", "export.xml", "Output path (.xml, .zip, .gz, .zst or .lz4)")
	seed      = flag.Uint64("seed", 1, "Random seed")
	metadata  = flag.Float64("metadata", 0.1, "Fraction of records carrying a MetadataEntry child")
	malformed = flag.Int("malformed", 0, "Number of records with an unquoted attribute value")
	summaries = flag.Int("summaries", 365, "Number of ActivitySummary elements")
)

var quantityTypes = []string{
	"StepCount", "HeartRate", "DistanceWalkingRunning", "ActiveEnergyBurned",
	"BasalEnergyBurned", "FlightsClimbed", "AppleExerciseTime", "AppleStandTime",
	"RestingHeartRate", "WalkingHeartRateAverage", "HeartRateVariabilitySDNN",
	"OxygenSaturation", "RespiratoryRate", "BodyMass", "Height", "WalkingSpeed",
	"WalkingStepLength", "WalkingAsymmetryPercentage", "EnvironmentalAudioExposure",
	"HeadphoneAudioExposure", "VO2Max", "StairAscentSpeed", "StairDescentSpeed",
	"SixMinuteWalkTestDistance", "DistanceCycling", "BodyFatPercentage",
	"LeanBodyMass", "BodyMassIndex", "DietaryWater", "DietaryEnergyConsumed",
}

const prolog = `<?xml version="1.0" encoding="UTF-8"?>
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
  sourceName    CDATA #REQUIRED
  startDate     CDATA #REQUIRED
  endDate       CDATA #REQUIRED
>
]>
<HealthData locale="en_US">
 <ExportDate value="2024-06-01 09:00:00 +0000"/>
 <Me HKCharacteristicTypeIdentifierDateOfBirth="1990-01-01" HKCharacteristicTypeIdentifierBiologicalSex="HKBiologicalSexNotSet"/>
`

const dateLayout = "2006-01-02 15:04:05 -0700"

func main() {
	flag.Parse()
	if *records < 0 || *types <= 0 {
		fmt.Fprintln(os.Stderr, "healthgen: -records must be >= 0 and -types > 0")
		os.Exit(2)
	}

	start := time.Now()
	n, err := generate(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthgen: %v\n", err)
		_ = os.Remove(*output)
		os.Exit(1)
	}
	fmt.Printf("wrote %d records (%d bytes of XML) to %s in %v\n",
		*records, n, *output, time.Since(start).Round(time.Millisecond))
}

// generate streams the document into path and returns its uncompressed size.
func generate(path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		w       io.Writer = f
		closers []io.Closer
	)
	switch algo := compression.FromExtension(path); {
	case strings.HasSuffix(strings.ToLower(path), ".zip"):
		zw := zip.NewWriter(f)
		entry, err := zw.Create("apple_health_export/export.xml")
		if err != nil {
			return 0, err
		}
		w, closers = entry, append(closers, zw)
	case algo != compression.None:
		comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
		if err != nil {
			return 0, err
		}
		cw, err := comp.NewWriter(f)
		if err != nil {
			return 0, err
		}
		w, closers = cw, append(closers, cw)
	}

	counter := &countingWriter{w: w}
	bw := bufio.NewWriterSize(counter, 1<<20)
	writeDocument(bw, rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)))
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			return 0, err
		}
	}
	return counter.n, f.Close()
}

func writeDocument(w *bufio.Writer, rng *rand.Rand) {
	w.WriteString(prolog)

	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	span := int64(5 * 365 * 24 * time.Hour / time.Second)
	bad := make(map[int]struct{}, *malformed)
	for len(bad) < *malformed && len(bad) < *records {
		bad[rng.IntN(*records)] = struct{}{}
	}

	for i := 0; i < *records; i++ {
		typ := "HKQuantityTypeIdentifier" + typeName(rng.IntN(*types))
		ts := base.Add(time.Duration(rng.Int64N(span)) * time.Second)
		startDate := ts.Format(dateLayout)
		endDate := ts.Add(time.Duration(rng.IntN(600)) * time.Second).Format(dateLayout)
		value := fmt.Sprintf("%.2f", rng.Float64()*200)

		if _, ok := bad[i]; ok {
			fmt.Fprintf(w, " <Record type=%s startDate=\"%s\" value=\"%s\"/>\n", typ, startDate, value)
			continue
		}
		fmt.Fprintf(w, ` <Record type="%s" sourceName="Apple Watch" sourceVersion="10.1" unit="count" creationDate="%s" startDate="%s" endDate="%s" value="%s"`,
			typ, endDate, startDate, endDate, value)
		if rng.Float64() < *metadata {
			w.WriteString(">\n  <MetadataEntry key=\"HKMetadataKeyHeartRateMotionContext\" value=\"0\"/>\n </Record>\n")
			continue
		}
		w.WriteString("/>\n")
	}

	for i := 0; i < *summaries; i++ {
		day := base.AddDate(0, 0, i).Format("2006-01-02")
		fmt.Fprintf(w, ` <ActivitySummary dateComponents="%s" activeEnergyBurned="%.1f" activeEnergyBurnedGoal="500" activeEnergyBurnedUnit="Cal" appleExerciseTime="%d" appleStandHours="%d"/>`+"\n",
			day, rng.Float64()*800, rng.IntN(90), rng.IntN(16))
	}
	w.WriteString("</HealthData>\n")
}

func typeName(i int) string {
	if i < len(quantityTypes) {
		return quantityTypes[i]
	}
	return fmt.Sprintf("Metric%03d", i)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
