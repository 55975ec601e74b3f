// Package mmap provides read-only memory-mapped file access for zero-copy
// reading of large inputs.
package mmap

import (
	"fmt"
	"os"
	"sync"
)

// Reader is a read-only memory-mapped view of a file. The mapped bytes are
// shared by every caller and must not be modified.
type Reader struct {
	file     *os.File
	data     []byte
	size     int64
	pageSize int

	mu sync.RWMutex
}

// Open maps filename into memory. Empty files yield a zero-length reader.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	r := &Reader{
		file:     file,
		size:     stat.Size(),
		pageSize: os.Getpagesize(),
	}
	if r.size == 0 {
		return r, nil
	}
	if int64(int(r.size)) != r.size {
		file.Close()
		return nil, fmt.Errorf("file too large to map: %d bytes", r.size)
	}

	data, err := mapFile(file, int(r.size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	// Advisory only.
	_ = adviseSequential(data)

	r.data = data
	return r, nil
}

// Len returns the mapped length.
func (r *Reader) Len() int64 {
	return r.size
}

// Name returns the path of the mapped file.
func (r *Reader) Name() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Bytes returns the whole mapping.
func (r *Reader) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Prefetch advises the kernel that the range will be read soon.
func (r *Reader) Prefetch(start, end int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.data == nil {
		return
	}
	startPage := (start / int64(r.pageSize)) * int64(r.pageSize)
	if startPage < 0 {
		startPage = 0
	}
	if end > r.size {
		end = r.size
	}
	if end-startPage <= 0 {
		return
	}
	_ = adviseWillNeed(r.data[startPage:end])
}

// Close unmaps the file and closes it
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	if r.data != nil {
		err = unmap(r.data)
		r.data = nil
	}

	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}

	return err
}
