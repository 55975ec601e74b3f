// Package healthetl is a streaming ETL engine that turns an Apple Health
// export into one CSV table per record type, packed into a single archive.
//
// # Architecture
//
// A conversion runs four stages over a memory-mapped input:
//
//  1. Extract: the document body is split into spans that start on element
//     boundaries, and each span is scanned concurrently into records.
//  2. Group: records are routed by type into sharded groups.
//  3. Finalize: every group is ordered by start date, ties broken by
//     document position.
//  4. Load: groups are rendered and compressed in parallel, then appended to
//     the archive in key order by a single writer.
//
// The output is byte-identical for a given input regardless of the number of
// workers, and it exists only if the run succeeded.
//
// # Layout
//
//   - cmd/healthetl: the command line interface
//   - cmd/healthgen: synthetic export generator for load tests
//   - internal/pipeline: the stage engine
//   - pkg/connector: extractor, encoder and sink plug-ins and their registry
//   - pkg/source: input detection, decompression and memory mapping
//   - pkg/config, pkg/logger, pkg/metrics, pkg/observability, pkg/report:
//     configuration, structured logging, Prometheus metrics, tracing and the
//     run report
//   - pkg/etlerrors: typed errors and their process exit codes
//
// # Usage
//
//	healthetl convert export.zip health.zip
//	healthetl convert export.xml.zst health.tar.zst --threads 8 --report-format json
package healthetl
