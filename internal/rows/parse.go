// Package rows converts uploaded tabular text into ordered field sequences.
//
// The parser is intentionally permissive: lines are split on '\n' and fields
// on ',' with no trimming, quoting or column-count validation. A terminal
// line break yields a trailing row holding a single empty field.
package rows

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// LineSeparator terminates a row.
	LineSeparator = '\n'
	// FieldSeparator splits a row into fields.
	FieldSeparator = ","
)

// Parse splits data into rows of fields. It never fails and is deterministic.
func Parse(data []byte) [][]string {
	lines := strings.Split(string(data), string(LineSeparator))
	out := make([][]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, splitLine(line))
	}
	return out
}

// ParseReader produces the same structure as Parse while consuming r one line
// at a time. The only errors it returns come from r itself.
func ParseReader(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	out := make([][]string, 0, 16)
	for {
		line, err := br.ReadString(LineSeparator)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return append(out, splitLine(line)), nil
			}
			return nil, fmt.Errorf("read line %d: %w", len(out)+1, err)
		}
		out = append(out, splitLine(line[:len(line)-1]))
	}
}

func splitLine(line string) []string {
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, string(utf8.RuneError))
	}
	return strings.Split(line, FieldSeparator)
}
