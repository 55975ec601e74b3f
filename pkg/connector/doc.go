// Package connector is the plug-in layer of healthetl. A conversion is built
// from three capabilities, each defined in core and provided by a connector
// package that registers itself with the registry from init:
//
//   - Extractor: partitions a byte source into spans and turns each span into
//     records. sources/healthxml reads Apple Health export.xml documents.
//
//   - Encoder: renders one ordered group of records into an entry payload.
//     destinations/csv writes RFC 4180 tables with a header row.
//
//   - Sink: names, prepares and appends entries to a single output container.
//     destinations/archive provides zip, tar.zst and tar.lz4.
//
// The sources and destinations packages import every connector of their kind,
// so a blank import of both makes all of them available:
//
//	import (
//		_ "github.com/ajitpratap0/healthetl/pkg/connector/destinations"
//		_ "github.com/ajitpratap0/healthetl/pkg/connector/sources"
//	)
//
//	reg := registry.GetRegistry()
//	format, ok := reg.SinkForPath("health.tar.zst") // "tar.zst"
//	sink, err := reg.NewSink(format, registry.SinkOptions{Path: "health.tar.zst"})
//
// # Writing entries
//
// A sink separates the work that may run in parallel from the work that must
// not. EntryName is called serially in group order and assigns a unique,
// sanitized name. Prepare may run concurrently and does the expensive part,
// such as deflating the payload. AcceptGroup is called by a single writer in
// group order, so the container layout is deterministic. Close finalizes the
// container; Abort removes everything a failed run produced.
//
// Errors returned by connectors are *etlerrors.Error values, which carry the
// process exit status of the failure class.
package connector
