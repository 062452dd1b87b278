// Package stream writes file bodies with full and single byte-range framing.
package stream

import (
	"regexp"
	"strconv"
	"strings"
)

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// RangeKind classifies a Range header against a resource size.
type RangeKind int

const (
	// RangeNone means no usable Range header, the full body is served.
	RangeNone RangeKind = iota
	// RangeSatisfiable means a partial response can be served.
	RangeSatisfiable
	// RangeUnsatisfiable means the header is well formed but selects no bytes.
	RangeUnsatisfiable
)

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

// Length is the number of bytes covered.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange interprets a `bytes=<start>-<end?>` header for a resource of size bytes.
//
// Headers not matching that exact form, including multi-range and suffix
// forms, yield RangeNone. A missing end means the last byte, an end past the
// last byte is clamped to it.
func ParseRange(header string, size int64) (Range, RangeKind) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return Range{}, RangeNone
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Range{}, RangeNone
	}

	end := size - 1
	if m[2] != "" {
		if end, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return Range{}, RangeNone
		}
		if end < start {
			return Range{}, RangeUnsatisfiable
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size {
		return Range{}, RangeUnsatisfiable
	}

	return Range{Start: start, End: end}, RangeSatisfiable
}
