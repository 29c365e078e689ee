// Package chunker splits long conversational content into overlapping,
// sentence-boundary-aware segments for embedding. Short content passes
// through untouched as a single segment.
package chunker

import (
	"fmt"
	"strings"
)

// Options control how content is segmented.
type Options struct {
	// Size is the target number of characters per segment.
	Size int
	// Overlap is the number of characters carried over from the end of one
	// segment into the start of the next.
	Overlap int
	// Threshold is the content length at or below which no splitting happens.
	Threshold int
	// BoundaryWindow is how far back from a naive cut point to search for a
	// sentence terminator before giving up and cutting mid-sentence.
	BoundaryWindow int
}

// DefaultOptions returns the segmentation parameters used for conversational
// memory: 500-character segments with 50 characters of overlap, splitting
// only content longer than 1000 characters.
func DefaultOptions() Options {
	return Options{
		Size:           500,
		Overlap:        50,
		Threshold:      1000,
		BoundaryWindow: 100,
	}
}

// Validate checks the segmentation parameters.
func (o Options) Validate() error {
	if o.Size < 1 {
		return fmt.Errorf("size must be at least 1")
	}
	if o.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative")
	}
	if o.Overlap >= o.Size {
		return fmt.Errorf("overlap must be smaller than size")
	}
	if o.Threshold < o.Size {
		return fmt.Errorf("threshold must be at least size")
	}
	if o.BoundaryWindow < 0 {
		return fmt.Errorf("boundary_window cannot be negative")
	}
	return nil
}

// Segment is one piece of chunked content. Start and End are byte offsets
// into the original text, so text[Start:End] == Text.
type Segment struct {
	Index int
	Start int
	End   int
	Text  string
}

// sentence terminators considered acceptable cut points
const boundaryChars = ".!?\n"

// Chunk splits text according to opts. Content at or below opts.Threshold is
// returned as a single segment at index 0. Longer content is windowed into
// segments of roughly opts.Size characters; each cut prefers the nearest
// sentence terminator within opts.BoundaryWindow characters behind the naive
// cut point. Consecutive segments share opts.Overlap characters. Indices are
// contiguous from 0 and no empty segments are produced.
func Chunk(text string, opts Options) []Segment {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if len(text) == 0 {
		return nil
	}
	if len(text) <= opts.Threshold {
		return []Segment{{Index: 0, Start: 0, End: len(text), Text: text}}
	}

	var segments []Segment
	start := 0
	for start < len(text) {
		end := start + opts.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = adjustToBoundary(text, start, end, opts.BoundaryWindow)
		}

		if end > start {
			segments = append(segments, Segment{
				Index: len(segments),
				Start: start,
				End:   end,
				Text:  text[start:end],
			})
		}
		if end >= len(text) {
			break
		}

		next := end - opts.Overlap
		if next <= start {
			// Segment was shorter than the overlap; step forward instead of
			// re-reading the same window forever.
			next = end
		}
		start = next
	}
	return segments
}

// Split chunks text with DefaultOptions.
func Split(text string) []Segment {
	return Chunk(text, DefaultOptions())
}

// adjustToBoundary searches backward from the naive cut point for the nearest
// sentence terminator and returns the position just after it. If no
// terminator exists within the window, the naive cut stands.
func adjustToBoundary(text string, start, end, window int) int {
	searchFrom := end - window
	if searchFrom < start+1 {
		searchFrom = start + 1
	}
	if idx := strings.LastIndexAny(text[searchFrom:end], boundaryChars); idx >= 0 {
		return searchFrom + idx + 1
	}
	return end
}

// Reassemble reconstructs the original text from segments produced by Chunk,
// using the recorded offsets to drop overlap regions. Segments must be in
// index order.
func Reassemble(segments []Segment) string {
	var b strings.Builder
	pos := 0
	for _, seg := range segments {
		if seg.End <= pos {
			continue
		}
		from := 0
		if seg.Start < pos {
			from = pos - seg.Start
		}
		b.WriteString(seg.Text[from:])
		pos = seg.End
	}
	return b.String()
}
