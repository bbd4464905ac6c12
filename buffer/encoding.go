package buffer

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// namedEncodings maps the client_encoding names this core recognizes to
// their canonical display name and golang.org/x/text/encoding.Encoding.
// Anything not listed here falls back to UTF-8, matching the only
// canonicalization the startup handshake documents (client_encoding=UNICODE
// normalizes to UTF-8).
var namedEncodings = map[string]struct {
	canonical string
	codec     encoding.Encoding
}{
	"UNICODE":   {"UTF8", unicode.UTF8},
	"UTF8":      {"UTF8", unicode.UTF8},
	"UTF-8":     {"UTF8", unicode.UTF8},
	"LATIN1":    {"LATIN1", charmap.ISO8859_1},
	"WIN1252":   {"WIN1252", charmap.Windows1252},
	"SQL_ASCII": {"SQL_ASCII", encoding.Nop},
}

// resolveEncoding looks up name (case-insensitively) in namedEncodings,
// defaulting to UTF-8 for an empty or unrecognized name.
func resolveEncoding(name string) (canonical string, codec encoding.Encoding) {
	entry, ok := namedEncodings[strings.ToUpper(name)]
	if !ok {
		return "UTF8", unicode.UTF8
	}

	return entry.canonical, entry.codec
}
