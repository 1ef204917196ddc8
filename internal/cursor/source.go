package cursor

import (
	"fmt"
	"strings"

	"github.com/ctagard/trace-mcp/pkg/types"
)

// Snippet is a rendered excerpt of a source file around a location.
type Snippet struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	EndLine int    `json:"endLine"`
	Text    string `json:"text"`
}

// Position converts a byte offset into a 1-based line and column. Offsets
// past the end clamp to the last position.
func Position(content string, offset int) (line, column int) {
	if offset > len(content) {
		offset = len(content)
	}
	if offset < 0 {
		offset = 0
	}
	before := content[:offset]
	line = strings.Count(before, "\n") + 1
	column = offset - strings.LastIndex(before, "\n")
	return line, column
}

// Highlight renders the lines covered by loc with contextLines lines of
// surrounding text. Covered lines are prefixed with ">".
func Highlight(src types.SourceFile, loc types.SourceLocation, contextLines int) Snippet {
	line, column := Position(src.Content, loc.Offset)
	end := loc.Offset + loc.Length
	if loc.Length > 0 {
		end--
	}
	endLine, _ := Position(src.Content, end)

	lines := strings.Split(src.Content, "\n")
	first := max(line-contextLines, 1)
	last := min(endLine+contextLines, len(lines))

	var sb strings.Builder
	for n := first; n <= last; n++ {
		marker := " "
		if n >= line && n <= endLine {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s%4d | %s\n", marker, n, lines[n-1])
	}

	return Snippet{
		Path:    src.Path,
		Line:    line,
		Column:  column,
		EndLine: endLine,
		Text:    sb.String(),
	}
}
