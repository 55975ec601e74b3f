package healthxml

import (
	"bytes"
	"errors"
	"io"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// Document locates the root element of a markup document.
type Document struct {
	// Root is the root element name.
	Root string
	// Body is the range between the end of the root start tag and the start
	// of the root close tag.
	Body core.Span
}

// Locate finds the root element and its closing tag. A missing or
// truncated root close tag means the document is corrupt.
func Locate(data []byte) (Document, error) {
	s := NewScanner(data, 0, len(data), 0)
	var root Tag
	for {
		tag, err := s.Next()
		if err == nil {
			root = tag
			break
		}
		if errors.Is(err, io.EOF) {
			return Document{}, etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, "no root element")
		}
		if etlerrors.IsRecoverable(err) {
			return Document{}, etlerrors.Wrap(err, etlerrors.ErrorTypeSourceCorrupt, "malformed root element")
		}
		return Document{}, err
	}

	doc := Document{Root: string(root.Name)}
	bodyStart := int64(s.Pos())
	if root.SelfClosing {
		doc.Body = core.Span{Start: bodyStart, End: bodyStart}
		return doc, nil
	}

	closeTag := make([]byte, 0, len(root.Name)+2)
	closeTag = append(closeTag, '<', '/')
	closeTag = append(closeTag, root.Name...)

	idx := bytes.LastIndex(data, closeTag)
	if idx < 0 || int64(idx) < bodyStart {
		return Document{}, etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, "missing root close tag").
			WithDetail("root", doc.Root).
			WithDetail("offset", len(data))
	}

	rest := data[idx+len(closeTag):]
	rest = bytes.TrimLeft(rest, " \t\r\n")
	if len(rest) == 0 || rest[0] != '>' {
		return Document{}, etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, "truncated root close tag").
			WithDetail("root", doc.Root).
			WithDetail("offset", idx)
	}
	if !trailingMisc(rest[1:]) {
		return Document{}, etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, "content after root element").
			WithDetail("root", doc.Root).
			WithDetail("offset", idx)
	}

	doc.Body = core.Span{Start: bodyStart, End: int64(idx)}
	return doc, nil
}

// trailingMisc reports whether b holds no further elements.
func trailingMisc(b []byte) bool {
	_, err := NewScanner(b, 0, len(b), 0).Next()
	return errors.Is(err, io.EOF)
}

// Split divides body into at most n spans of at least minSize bytes. Every
// span after the first begins at a start tag: an interior cut is moved
// forward to the first '>' that is followed, after optional whitespace, by
// '<' and a letter, and the span begins at that '<'.
func Split(data []byte, body core.Span, n int, minSize int64) []core.Span {
	if body.Len() <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	size := (body.Len() + int64(n) - 1) / int64(n)
	if size < minSize {
		size = minSize
	}

	spans := make([]core.Span, 0, n)
	start := body.Start
	for start < body.End {
		cut := start + size
		if cut >= body.End {
			spans = append(spans, core.Span{Start: start, End: body.End})
			break
		}
		next := nextBoundary(data, cut, body.End)
		spans = append(spans, core.Span{Start: start, End: next})
		start = next
	}
	return spans
}

// nextBoundary returns the offset of the first record start at or after
// from, or limit when there is none.
func nextBoundary(data []byte, from, limit int64) int64 {
	for i := from; i < limit; {
		j := bytes.IndexByte(data[i:limit], '>')
		if j < 0 {
			return limit
		}
		k := i + int64(j) + 1
		for k < limit && isSpace(data[k]) {
			k++
		}
		if k+1 < limit && data[k] == '<' && isLetter(data[k+1]) {
			return k
		}
		i = i + int64(j) + 1
	}
	return limit
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
