package healthxml

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

// unescape decodes the predefined entities and character references in an
// attribute value. ok is false for an unknown or malformed reference.
func unescape(raw []byte) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))

	for len(raw) > 0 {
		amp := bytes.IndexByte(raw, '&')
		if amp < 0 {
			b.Write(raw)
			break
		}
		b.Write(raw[:amp])
		raw = raw[amp:]

		semi := bytes.IndexByte(raw, ';')
		if semi < 2 {
			return "", false
		}
		ref := raw[1:semi]
		raw = raw[semi+1:]

		if ref[0] == '#' {
			r, ok := charRef(ref[1:])
			if !ok {
				return "", false
			}
			b.WriteRune(r)
			continue
		}

		switch string(ref) {
		case "amp":
			b.WriteByte('&')
		case "lt":
			b.WriteByte('<')
		case "gt":
			b.WriteByte('>')
		case "quot":
			b.WriteByte('"')
		case "apos":
			b.WriteByte('\'')
		default:
			return "", false
		}
	}
	return b.String(), true
}

func charRef(num []byte) (rune, bool) {
	if len(num) == 0 {
		return 0, false
	}
	base := 10
	if num[0] == 'x' || num[0] == 'X' {
		base = 16
		num = num[1:]
	}
	n, err := strconv.ParseUint(string(num), base, 32)
	if err != nil {
		return 0, false
	}
	r := rune(n)
	if !utf8.ValidRune(r) || r == 0 {
		return 0, false
	}
	return r, true
}
