// Package envfile reads and writes the line-oriented secrets file.
//
// The format is one KEY=VALUE pair per line. Blank lines are ignored on read
// and there are no comments. Neither keys nor values may span lines, and keys
// cannot contain '='.
// Order of pairs is preserved exactly as read.
package envfile

import (
	"fmt"
	"strings"
	"unicode"
)

// Reserved bookkeeping keys. User secrets must not use them.
const (
	DataKeyName = "KMS_DATA_KEY"
	RegionName  = "AWS_REGION"
)

// Pair is a single KEY=VALUE line.
type Pair struct {
	Key   string
	Value string
}

// String renders the pair the way Serialize writes it.
func (p Pair) String() string {
	return p.Key + "=" + p.Value
}

// FormatError reports a line that is not of the form KEY=VALUE.
type FormatError struct {
	Line    int // 1-based, 0 for a standalone entry
	Content string
	Reason  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Content)
	}
	return fmt.Sprintf("invalid entry %q: %s", e.Content, e.Reason)
}

// IsReserved reports whether key is one of the bookkeeping keys.
func IsReserved(key string) bool {
	return key == DataKeyName || key == RegionName
}

// Parse splits content into ordered pairs. Repeated keys are kept as-is.
func Parse(content string) ([]Pair, error) {
	var pairs []Pair
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		p, err := parseLine(line)
		if err != nil {
			err.Line = i + 1
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// ParseEntry parses a single KEY=VALUE argument with the same rules as a
// file line.
func ParseEntry(entry string) (Pair, error) {
	p, err := parseLine(entry)
	if err != nil {
		return Pair{}, err
	}
	return p, nil
}

// parseLine splits on the first '='. Keys can never hold '=', values can
// (base64 padding in KMS_DATA_KEY).
func parseLine(line string) (Pair, *FormatError) {
	k, v, ok := strings.Cut(line, "=")
	if !ok {
		return Pair{}, &FormatError{Content: line, Reason: "missing '='"}
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return Pair{}, &FormatError{Content: line, Reason: "empty key"}
	}
	if strings.IndexFunc(k, invalidKeyRune) >= 0 {
		return Pair{}, &FormatError{Content: line, Reason: "key contains whitespace or control characters"}
	}
	return Pair{Key: k, Value: strings.TrimSpace(v)}, nil
}

func invalidKeyRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

// Serialize writes pairs as KEY=VALUE lines joined by '\n', without a
// trailing newline.
func Serialize(pairs []Pair) string {
	lines := make([]string, len(pairs))
	for i, p := range pairs {
		lines[i] = p.String()
	}
	return strings.Join(lines, "\n")
}

// Index maps each key to the position of its last occurrence in pairs.
func Index(pairs []Pair) map[string]int {
	idx := make(map[string]int, len(pairs))
	for i, p := range pairs {
		idx[p.Key] = i
	}
	return idx
}
