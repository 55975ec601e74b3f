package archive

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// outputFile writes to a temporary file next to the destination and renames
// it into place on commit, so a failed run never leaves a partial archive at
// the destination path.
type outputFile struct {
	path      string
	file      *os.File
	buf       *bufio.Writer
	committed bool
	closed    bool
}

func createOutput(path string) (*outputFile, error) {
	if path == "" {
		return nil, etlerrors.New(etlerrors.ErrorTypeConfig, "output path is empty")
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return nil, etlerrors.New(etlerrors.ErrorTypeIO, "output path is a directory").WithDetail("path", path)
	}

	f, err := os.CreateTemp(dir, "."+base+".*.partial")
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to create output file").WithDetail("path", path)
	}
	return &outputFile{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, 1<<20),
	}, nil
}

func (o *outputFile) Write(p []byte) (int, error) {
	return o.buf.Write(p)
}

// commit flushes, syncs and renames the temporary file into place.
func (o *outputFile) commit() error {
	if err := o.buf.Flush(); err != nil {
		return o.ioError(err, "failed to flush output")
	}
	if err := o.file.Sync(); err != nil {
		return o.ioError(err, "failed to sync output")
	}
	o.closed = true
	if err := o.file.Close(); err != nil {
		return o.ioError(err, "failed to close output")
	}
	if err := os.Chmod(o.file.Name(), 0o644); err != nil {
		return o.ioError(err, "failed to set output permissions")
	}
	if err := os.Rename(o.file.Name(), o.path); err != nil {
		return o.ioError(err, "failed to move output into place")
	}
	o.committed = true
	return nil
}

// abort closes and removes the temporary file. A committed file is kept.
func (o *outputFile) abort() error {
	if o.committed {
		return nil
	}
	if !o.closed {
		o.closed = true
		_ = o.file.Close()
	}
	if err := os.Remove(o.file.Name()); err != nil && !os.IsNotExist(err) {
		return o.ioError(err, "failed to remove partial output")
	}
	return nil
}

func (o *outputFile) ioError(err error, msg string) error {
	return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, msg).WithDetail("path", o.path)
}
