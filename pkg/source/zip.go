package source

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/mmap"
)

// openZip exposes the markup entry of a mapped zip container. Ownership of r
// passes to the returned Source, or r is closed on error.
func openZip(ctx context.Context, path string, r *mmap.Reader, opts Options) (*Source, error) {
	data := r.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		r.Close()
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeUnreadableFormat, "invalid zip container").
			WithDetail("path", path)
	}

	f, serr := selectEntry(zr.File, opts.EntrySuffix)
	if serr != nil {
		r.Close()
		return nil, serr.WithDetail("path", path)
	}

	log := opts.Logger.With(zap.String("path", path), zap.String("entry", f.Name))

	if f.Method == zip.Store && f.CompressedSize64 == f.UncompressedSize64 {
		off, err := f.DataOffset()
		if err != nil {
			r.Close()
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeUnreadableFormat, "cannot locate zip entry data").
				WithDetail("path", path).
				WithDetail("entry", f.Name)
		}
		end := off + int64(f.UncompressedSize64)
		if off < 0 || end > int64(len(data)) {
			r.Close()
			return nil, etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, "zip entry extends past end of container").
				WithDetail("path", path).
				WithDetail("entry", f.Name)
		}
		window := data[off:end:end]
		if !looksLikeMarkup(window) {
			r.Close()
			return nil, etlerrors.New(etlerrors.ErrorTypeUnreadableFormat, "zip entry is not markup").
				WithDetail("path", path).
				WithDetail("entry", f.Name)
		}
		log.Debug("using stored zip entry in place",
			zap.Int64("offset", off),
			zap.Uint64("bytes", f.UncompressedSize64))
		return &Source{name: path + "!" + f.Name, kind: KindZipStored, data: window, reader: r}, nil
	}

	defer r.Close()
	src, err2 := materialize(ctx, path, KindZipMaterialized, opts, func() (io.ReadCloser, error) {
		return f.Open()
	})
	if err2 != nil {
		return nil, err2
	}
	src.name = path + "!" + f.Name
	return src, nil
}

// selectEntry picks the entry whose name ends with suffix, or the sole file
// entry when none does.
func selectEntry(files []*zip.File, suffix string) (*zip.File, *etlerrors.Error) {
	var regular []*zip.File
	var matches []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		regular = append(regular, f)
		if strings.HasSuffix(f.Name, suffix) {
			matches = append(matches, f)
		}
	}

	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		// Prefer the shortest path, which is the top-level export for
		// archives that also carry a copy under a subfolder.
		best := matches[0]
		for _, f := range matches[1:] {
			if len(f.Name) < len(best.Name) {
				best = f
			}
		}
		return best, nil
	case len(regular) == 1:
		return regular[0], nil
	case len(regular) == 0:
		return nil, etlerrors.New(etlerrors.ErrorTypeUnreadableFormat, "zip container is empty")
	default:
		return nil, etlerrors.Newf(etlerrors.ErrorTypeUnreadableFormat,
			"zip container has %d entries and none ends with %q", len(regular), suffix)
	}
}
