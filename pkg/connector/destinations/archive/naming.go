package archive

import (
	"strconv"
	"strings"
)

// typePrefixes are stripped from group keys to shorten entry names.
var typePrefixes = []string{
	"HKQuantityTypeIdentifier",
	"HKCategoryTypeIdentifier",
	"HKCharacteristicTypeIdentifier",
	"HKCorrelationTypeIdentifier",
	"HKDataType",
	"HKWorkoutActivityType",
}

// Sanitize turns a group key into a portable file name stem: a known type
// prefix is removed, characters that are reserved on common filesystems or
// are control characters become '_', and surrounding '_' are trimmed. An
// empty result becomes "unnamed".
func Sanitize(key string) string {
	for _, p := range typePrefixes {
		if rest, ok := strings.CutPrefix(key, p); ok && rest != "" {
			key = rest
			break
		}
	}

	name := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return '_'
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, key)

	name = strings.Trim(name, "_. ")
	if name == "" {
		return "unnamed"
	}
	return name
}

// Namer assigns unique entry names. Names are compared case-insensitively so
// that an archive extracts cleanly on case-insensitive filesystems. Not safe
// for concurrent use.
type Namer struct {
	used map[string]struct{}
}

// NewNamer creates an empty namer.
func NewNamer() *Namer {
	return &Namer{used: make(map[string]struct{})}
}

// Name returns Sanitize(key)+ext, suffixed with _2, _3, ... when that name
// was already handed out.
func (n *Namer) Name(key, ext string) string {
	stem := Sanitize(key)
	name := stem + ext
	for i := 2; n.taken(name); i++ {
		name = stem + "_" + strconv.Itoa(i) + ext
	}
	n.used[strings.ToLower(name)] = struct{}{}
	return name
}

func (n *Namer) taken(name string) bool {
	_, ok := n.used[strings.ToLower(name)]
	return ok
}
