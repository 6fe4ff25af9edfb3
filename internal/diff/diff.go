// Package diff implements the line-oriented text diff used to render
// revision-to-revision changes and to measure per-author edit volume.
//
// The algorithm is a greedy two-cursor walk, not a shortest-edit-script
// diff. It trades minimality for predictability and speed on
// document-sized inputs; the exact segmentation (including the tie-break
// between added and removed blocks) is part of the package contract
// because downstream contribution weights are derived from it.
package diff

import "strings"

// SegmentType classifies a run of lines in a diff.
type SegmentType string

const (
	Added     SegmentType = "added"
	Removed   SegmentType = "removed"
	Unchanged SegmentType = "unchanged"
)

// Segment is a maximal contiguous run of lines sharing one type. Value
// holds the lines joined with "\n" and no trailing newline.
type Segment struct {
	Type  SegmentType `json:"type"`
	Value string      `json:"value"`
}

// Stats summarizes a diff as non-empty line counts per segment type.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Compute diffs two text blobs line by line.
//
// Both inputs are split on "\n"; a trailing newline therefore produces a
// final empty line, which is compared like any other. The result is
// deterministic for identical inputs. Joining the values of all segments
// whose type is not Removed with "\n" reproduces newText; skipping Added
// segments reproduces oldText.
func Compute(oldText, newText string) []Segment {
	oldLines := strings.Split(oldText, "\n")
	newLines := strings.Split(newText, "\n")

	var segments []Segment
	i, j := 0, 0

	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			segments = appendRun(segments, Unchanged, oldLines[i])
			i++
			j++
			continue
		}

		oldInNew := indexFrom(newLines, oldLines[i], j)
		newInOld := indexFrom(oldLines, newLines[j], i)

		switch {
		case oldInNew >= 0 && (newInOld < 0 || oldInNew-j < newInOld-i):
			// The old line reappears sooner in the new text than the new
			// line does in the old text: everything up to that match was
			// inserted.
			segments = appendRun(segments, Added, strings.Join(newLines[j:oldInNew], "\n"))
			j = oldInNew
		case newInOld >= 0:
			segments = appendRun(segments, Removed, strings.Join(oldLines[i:newInOld], "\n"))
			i = newInOld
		default:
			// Neither line occurs again in the other text: a replacement.
			segments = appendRun(segments, Removed, oldLines[i])
			segments = appendRun(segments, Added, newLines[j])
			i++
			j++
		}
	}

	if i < len(oldLines) {
		segments = appendRun(segments, Removed, strings.Join(oldLines[i:], "\n"))
	}
	if j < len(newLines) {
		segments = appendRun(segments, Added, strings.Join(newLines[j:], "\n"))
	}

	return segments
}

// Summarize counts the non-empty lines of each segment type.
func Summarize(segments []Segment) Stats {
	var stats Stats
	for _, segment := range segments {
		count := 0
		for _, line := range strings.Split(segment.Value, "\n") {
			if line != "" {
				count++
			}
		}
		switch segment.Type {
		case Added:
			stats.Added += count
		case Removed:
			stats.Removed += count
		case Unchanged:
			stats.Unchanged += count
		}
	}
	return stats
}

// appendRun coalesces adjacent segments of the same type so each emitted
// segment is a maximal run.
func appendRun(segments []Segment, typ SegmentType, value string) []Segment {
	if n := len(segments); n > 0 && segments[n-1].Type == typ {
		segments[n-1].Value += "\n" + value
		return segments
	}
	return append(segments, Segment{Type: typ, Value: value})
}

func indexFrom(lines []string, line string, from int) int {
	for k := from; k < len(lines); k++ {
		if lines[k] == line {
			return k
		}
	}
	return -1
}
