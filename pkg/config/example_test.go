package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/healthetl/pkg/config"
)

// ExampleDefault shows the compiled defaults.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Record Buffer: %d\n", cfg.Pipeline.RecordBuffer)
	fmt.Printf("Header Policy: %s\n", cfg.Output.HeaderPolicy)
	fmt.Printf("Report Format: %s\n", cfg.Metrics.ReportFormat)

	// Output:
	// Record Buffer: 8192
	// Header Policy: pad
	// Report Format: text
}

// ExamplePipelineConfig_Workers shows how per-stage counts override the
// global thread count.
func ExamplePipelineConfig_Workers() {
	cfg := config.Default()
	cfg.Pipeline.Threads = 4
	cfg.Pipeline.LoadWorkers = 2

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	extract, transform, load := cfg.Pipeline.Workers()
	fmt.Println(extract, transform, load)

	// Output:
	// 4 4 2
}
