// Package history handles the serialized move history exchanged with
// players: PGN-style header tags followed by numbered SAN moves.
package history

import (
	"fmt"
	"regexp"
	"strings"
)

// Header is one tag pair. Order is preserved when serializing.
type Header struct {
	Key   string
	Value string
}

type Headers []Header

// Get returns the value of key.
func (h Headers) Get(key string) (string, bool) {
	for _, kv := range h {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces key in place or appends it.
func (h *Headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Key: key, Value: value})
}

// Delete removes key if present.
func (h *Headers) Delete(key string) {
	out := (*h)[:0]
	for _, kv := range *h {
		if kv.Key != key {
			out = append(out, kv)
		}
	}
	*h = out
}

func (h Headers) Clone() Headers { return append(Headers(nil), h...) }

// Result tokens.
const (
	ResultWhiteWins = "1-0"
	ResultBlackWins = "0-1"
	ResultDraw      = "1/2-1/2"
	ResultOngoing   = "*"
)

// Document is a parsed history.
type Document struct {
	Headers Headers
	Moves   []string // SAN, in play order
}

var headerLine = regexp.MustCompile(`^\[(\w+)\s+"([^"]*)"\]$`)

// ParseHeaders extracts tag pairs line by line. A repeated key keeps the
// last value.
func ParseHeaders(pgn string) map[string]string {
	out := make(map[string]string)
	for _, kv := range parseHeaderList(pgn) {
		out[kv.Key] = kv.Value
	}
	return out
}

func parseHeaderList(pgn string) Headers {
	var hs Headers
	for _, line := range strings.Split(pgn, "\n") {
		m := headerLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m != nil {
			hs.Set(m[1], m[2])
		}
	}
	return hs
}

// ParseMoves returns the SAN tokens of the movetext, without move numbers,
// comments, variations, annotations or the result token.
func ParseMoves(pgn string) []string {
	var body strings.Builder
	for _, line := range strings.Split(pgn, "\n") {
		trimmed := strings.TrimSpace(line)
		if headerLine.MatchString(trimmed) {
			continue
		}
		if i := strings.IndexByte(trimmed, ';'); i >= 0 {
			trimmed = trimmed[:i]
		}
		body.WriteString(trimmed)
		body.WriteByte(' ')
	}
	text := stripNested(body.String(), '{', '}')
	text = stripNested(text, '(', ')')

	var moves []string
	for _, tok := range strings.Fields(text) {
		tok = stripMoveNumber(tok)
		if tok == "" || isResultToken(tok) || strings.HasPrefix(tok, "$") {
			continue
		}
		moves = append(moves, tok)
	}
	return moves
}

// Parse reads headers and moves.
func Parse(pgn string) Document {
	return Document{Headers: parseHeaderList(pgn), Moves: ParseMoves(pgn)}
}

// String serializes the document: tags, a blank line, numbered moves and
// the Result tag value when one is set.
func (d Document) String() string {
	var b strings.Builder
	for _, kv := range d.Headers {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", kv.Key, sanitize(kv.Value))
	}
	if len(d.Headers) > 0 {
		b.WriteString("\n")
	}
	var parts []string
	for i := 0; i < len(d.Moves); i += 2 {
		turn := fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(d.Moves[i]))
		if i+1 < len(d.Moves) {
			turn += " " + strings.TrimSpace(d.Moves[i+1])
		}
		parts = append(parts, turn)
	}
	if res, ok := d.Headers.Get("Result"); ok && res != "" {
		parts = append(parts, res)
	}
	b.WriteString(strings.Join(parts, " "))
	return strings.TrimRight(b.String(), "\n")
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func stripNested(s string, open, close byte) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteByte(s[i])
			}
		}
	}
	return b.String()
}

// stripMoveNumber turns "12." / "12..." / "12.e4" into "" / "" / "e4".
func stripMoveNumber(tok string) string {
	i := 0
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i == 0 || i == len(tok) || tok[i] != '.' {
		return tok
	}
	for i < len(tok) && tok[i] == '.' {
		i++
	}
	return tok[i:]
}

func isResultToken(tok string) bool {
	switch tok {
	case ResultWhiteWins, ResultBlackWins, ResultDraw, ResultOngoing:
		return true
	}
	return false
}
