// Package testutil provides testing utilities for healthetl: loggers, synthetic
// Apple Health exports and readers for the archives the pipeline produces.
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger returns a development logger that writes through t.Log, so
// pipeline logs only show up for failing or verbose tests.
func TestLogger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}
