package review

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStat computes line additions and deletions between two versions of
// a file, for the suggestion cards' change summaries.
func DiffStat(before, after string) (additions, deletions int) {
	if before == after {
		return 0, 0
	}

	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lines := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffMainRunes(beforeRunes, afterRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && len(d.Text) > 0 {
			// Trailing fragment without a newline still counts as a line.
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += n
		case diffmatchpatch.DiffDelete:
			deletions += n
		}
	}
	return additions, deletions
}
