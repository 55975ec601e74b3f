//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package mmap

import (
	"io"
	"os"
)

// Platforms without mmap read the file into memory.
func mapFile(f *os.File, size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, err
	}
	return b, nil
}

func unmap([]byte) error { return nil }

func adviseSequential([]byte) error { return nil }

func adviseWillNeed([]byte) error { return nil }
