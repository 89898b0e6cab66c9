package trace

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/HendryAvila/intentgate/internal/snapshot"
)

// AddedRanges computes the added line runs between before and after as
// 1-indexed positions in the post-image. Each run's hash covers the
// concatenated added text. Removed and unchanged runs only advance
// counters.
func AddedRanges(before, after string) []Range {
	before = normalizeEOL(before)
	after = normalizeEOL(after)
	if after == "" {
		return nil
	}
	if before == after {
		return nil
	}

	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	var ranges []Range
	line := 1 // next line number in the post-image
	for _, d := range diffs {
		n := lineCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			line += n
		case diffmatchpatch.DiffInsert:
			if n > 0 {
				ranges = append(ranges, Range{
					StartLine:   line,
					EndLine:     line + n - 1,
					ContentHash: snapshot.HashBytes([]byte(d.Text)),
				})
				line += n
			}
		case diffmatchpatch.DiffDelete:
			// pre-image only; the post-image counter stays put
		}
	}
	return ranges
}

func normalizeEOL(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// lineCount counts lines in a diff chunk: a trailing newline does not
// open another line.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
