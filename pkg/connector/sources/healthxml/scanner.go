package healthxml

import (
	"bytes"
	"io"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// Attr is one raw attribute of a start tag. Name and Value alias the scanned
// buffer.
type Attr struct {
	Name  []byte
	Value []byte
	// Escaped is set when Value contains entity references.
	Escaped bool
}

// Tag is a start tag. Attrs is reused by the next call to Scanner.Next.
type Tag struct {
	Name        []byte
	Offset      int64
	Attrs       []Attr
	SelfClosing bool
}

// Scanner finds start tags in data[start:end]. Declarations, comments, CDATA
// sections, DOCTYPE and closing tags are skipped. A construct that begins
// before end is read to completion even when it runs past end, which lets
// adjacent chunks share no state.
//
// Next returns io.EOF when the window is exhausted, a record_parse error for a
// malformed tag (scanning resumes at the next '<'), or a source_corrupt error
// when a construct is left open at the end of data.
type Scanner struct {
	data  []byte
	pos   int
	end   int
	base  int64
	attrs []Attr
}

// NewScanner scans data[start:end]. base is added to reported offsets.
func NewScanner(data []byte, start, end int, base int64) *Scanner {
	if end > len(data) {
		end = len(data)
	}
	return &Scanner{
		data:  data,
		pos:   start,
		end:   end,
		base:  base,
		attrs: make([]Attr, 0, 16),
	}
}

// Pos returns the scan position relative to data.
func (s *Scanner) Pos() int {
	return s.pos
}

var (
	commentOpen  = []byte("<!--")
	commentClose = []byte("-->")
	cdataOpen    = []byte("<![CDATA[")
	cdataClose   = []byte("]]>")
	piClose      = []byte("?>")
)

// Next returns the next start tag.
func (s *Scanner) Next() (Tag, error) {
	for {
		if s.pos >= s.end {
			return Tag{}, io.EOF
		}
		i := bytes.IndexByte(s.data[s.pos:s.end], '<')
		if i < 0 {
			s.pos = s.end
			return Tag{}, io.EOF
		}
		p := s.pos + i
		if p+1 >= len(s.data) {
			s.pos = len(s.data)
			return Tag{}, s.corrupt(p, "truncated markup")
		}

		switch c := s.data[p+1]; {
		case c == '?':
			if err := s.skipPast(p, p+2, piClose, "unterminated processing instruction"); err != nil {
				return Tag{}, err
			}
		case c == '!':
			if err := s.skipDeclaration(p); err != nil {
				return Tag{}, err
			}
		case c == '/':
			j := bytes.IndexByte(s.data[p+2:], '>')
			if j < 0 {
				s.pos = len(s.data)
				return Tag{}, s.corrupt(p, "unterminated closing tag")
			}
			s.pos = p + 2 + j + 1
		case isNameStart(c):
			return s.startTag(p)
		default:
			s.pos = p + 1
			return Tag{}, s.malformed(p, "invalid character after '<'")
		}
	}
}

func (s *Scanner) skipPast(p, from int, terminator []byte, reason string) error {
	j := bytes.Index(s.data[from:], terminator)
	if j < 0 {
		s.pos = len(s.data)
		return s.corrupt(p, reason)
	}
	s.pos = from + j + len(terminator)
	return nil
}

func (s *Scanner) skipDeclaration(p int) error {
	rest := s.data[p:]
	switch {
	case bytes.HasPrefix(rest, commentOpen):
		return s.skipPast(p, p+len(commentOpen), commentClose, "unterminated comment")
	case bytes.HasPrefix(rest, cdataOpen):
		return s.skipPast(p, p+len(cdataOpen), cdataClose, "unterminated CDATA section")
	}

	// DOCTYPE or another declaration. An internal subset in brackets may
	// itself contain '>' as well as comments and quoted literals.
	depth := 0
	var quote byte
	for i := p + 2; i < len(s.data); i++ {
		c := s.data[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '<' && bytes.HasPrefix(s.data[i:], commentOpen):
			j := bytes.Index(s.data[i+len(commentOpen):], commentClose)
			if j < 0 {
				s.pos = len(s.data)
				return s.corrupt(i, "unterminated comment")
			}
			i += len(commentOpen) + j + len(commentClose) - 1
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '>' && depth <= 0:
			s.pos = i + 1
			return nil
		}
	}
	s.pos = len(s.data)
	return s.corrupt(p, "unterminated declaration")
}

func (s *Scanner) startTag(p int) (Tag, error) {
	data := s.data
	i := p + 1
	for i < len(data) && isNameChar(data[i]) {
		i++
	}
	tag := Tag{Name: data[p+1 : i], Offset: s.base + int64(p)}
	s.attrs = s.attrs[:0]

	for {
		sawSpace := false
		for i < len(data) && isSpace(data[i]) {
			i++
			sawSpace = true
		}
		if i >= len(data) {
			s.pos = len(data)
			return Tag{}, s.corrupt(p, "unterminated tag")
		}

		switch c := data[i]; {
		case c == '>':
			s.pos = i + 1
			tag.Attrs = s.attrs
			return tag, nil
		case c == '/':
			if i+1 >= len(data) {
				s.pos = len(data)
				return Tag{}, s.corrupt(p, "unterminated tag")
			}
			if data[i+1] != '>' {
				return s.skipMalformed(p, "unexpected '/' in tag")
			}
			s.pos = i + 2
			tag.Attrs = s.attrs
			tag.SelfClosing = true
			return tag, nil
		case !isNameStart(c):
			return s.skipMalformed(p, "unexpected character in tag")
		case !sawSpace:
			return s.skipMalformed(p, "missing whitespace before attribute")
		}

		nameStart := i
		for i < len(data) && isNameChar(data[i]) {
			i++
		}
		name := data[nameStart:i]

		for i < len(data) && isSpace(data[i]) {
			i++
		}
		if i >= len(data) {
			s.pos = len(data)
			return Tag{}, s.corrupt(p, "unterminated tag")
		}
		if data[i] != '=' {
			return s.skipMalformed(p, "attribute without value")
		}
		i++
		for i < len(data) && isSpace(data[i]) {
			i++
		}
		if i >= len(data) {
			s.pos = len(data)
			return Tag{}, s.corrupt(p, "unterminated tag")
		}
		q := data[i]
		if q != '"' && q != '\'' {
			return s.skipMalformed(p, "unquoted attribute value")
		}
		i++

		valStart := i
		escaped := false
		for i < len(data) && data[i] != q {
			switch data[i] {
			case '<':
				return s.skipStrayAngle(p, i, q)
			case '&':
				escaped = true
			}
			i++
		}
		if i >= len(data) {
			s.pos = len(data)
			return Tag{}, s.corrupt(p, "unterminated attribute value")
		}
		value := data[valStart:i]
		i++

		for k := range s.attrs {
			if bytes.Equal(s.attrs[k].Name, name) {
				return s.skipMalformed(p, "duplicate attribute "+string(name))
			}
		}
		s.attrs = append(s.attrs, Attr{Name: name, Value: value, Escaped: escaped})
	}
}

// skipMalformed skips a malformed tag: scanning resumes at the next '<'.
func (s *Scanner) skipMalformed(p int, reason string) (Tag, error) {
	s.pos = p + 1
	return Tag{}, s.malformed(p, reason)
}

// skipStrayAngle handles a '<' at stray inside a value quoted with q. When
// the value still closes within the same tag, the whole tag is skipped.
// Otherwise the quote was never closed and scanning resumes at the first
// '<' that starts a name, so the following element is not lost.
func (s *Scanner) skipStrayAngle(p, stray int, q byte) (Tag, error) {
	data := s.data
	if j := bytes.IndexByte(data[stray:], q); j >= 0 {
		after := stray + j + 1
		if after < len(data) && (isSpace(data[after]) || data[after] == '/' || data[after] == '>') {
			s.pos = tagEnd(data, after)
			return Tag{}, s.malformed(p, "'<' in attribute value")
		}
	}

	s.pos = stray + 1
	for i := stray; i+1 < len(data); {
		if isNameStart(data[i+1]) {
			s.pos = i
			break
		}
		k := bytes.IndexByte(data[i+1:], '<')
		if k < 0 {
			break
		}
		i += 1 + k
	}
	return Tag{}, s.malformed(p, "'<' in attribute value")
}

// tagEnd returns the position just past the '>' that closes the tag whose
// remainder starts at from. Quoted values are skipped. A '<' outside quotes
// ends the tag early and is left for the next scan.
func tagEnd(data []byte, from int) int {
	var quote byte
	for i := from; i < len(data); i++ {
		c := data[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i + 1
		case c == '<':
			return i
		}
	}
	return len(data)
}

func (s *Scanner) malformed(p int, reason string) error {
	return etlerrors.New(etlerrors.ErrorTypeRecordParse, reason).
		WithDetail("offset", s.base+int64(p))
}

func (s *Scanner) corrupt(p int, reason string) error {
	return etlerrors.New(etlerrors.ErrorTypeSourceCorrupt, reason).
		WithDetail("offset", s.base+int64(p))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == ':' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9' || c == '-' || c == '.'
}
