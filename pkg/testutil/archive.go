package testutil

import (
	"archive/tar"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/compression"
)

// ArchiveEntry is one entry read back from an output archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// ReadZip returns the entries of a zip archive in directory order.
func ReadZip(t testing.TB, path string) []ArchiveEntry {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	entries := make([]ArchiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		entries = append(entries, ArchiveEntry{Name: f.Name, Data: data})
	}
	return entries
}

// ReadTar returns the entries of a compressed tar stream in stream order.
func ReadTar(t testing.TB, path string, algo compression.Algorithm) []ArchiveEntry {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo})
	require.NoError(t, err)
	rc, err := comp.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer rc.Close()

	var entries []ArchiveEntry
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries = append(entries, ArchiveEntry{Name: hdr.Name, Data: data})
	}
	return entries
}

// EntryNames lists entry names in order.
func EntryNames(entries []ArchiveEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Table parses a delimited-text entry into a header and rows.
func Table(t testing.TB, data []byte) (header []string, rows [][]string) {
	t.Helper()
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	require.NoError(t, err)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], all[1:]
}

// Column returns the values of the named column.
func Column(t testing.TB, header []string, rows [][]string, name string) []string {
	t.Helper()
	idx := -1
	for i, h := range header {
		if h == name {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0, "column %q not in header %v", name, header)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[idx]
	}
	return out
}
