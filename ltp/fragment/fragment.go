// Package fragment implements a sorted set of non-overlapping, non-adjacent
// closed [Begin, End] byte ranges, used to track both what a receiver has reassembled
// and what a sender's receiver has acknowledged.
package fragment

import (
	"sort"

	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

// interval is a closed-closed [Begin, End] range, matching the wire
// representation of a reception claim's span before it's converted to a
// half-open [offset, offset+length) claim.
type interval struct {
	Begin, End uint64 // inclusive
}

// Set is a sorted collection of disjoint, non-touching intervals.
type Set struct {
	ivals []interval
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Empty reports whether the set contains no bytes.
func (s *Set) Empty() bool { return len(s.ivals) == 0 }

// touches reports whether intervals [aBegin,aEnd] and [bBegin,bEnd]
// (both closed) overlap or are adjacent, i.e. should coalesce.
func touches(aBegin, aEnd, bBegin, bEnd uint64) bool {
	if aEnd < aBegin || bEnd < bBegin {
		return false
	}
	// overlap
	if aBegin <= bEnd && bBegin <= aEnd {
		return true
	}
	// adjacency, checked without risk of overflow at the top of the range
	if aEnd < bBegin {
		return bBegin-aEnd == 1
	}
	return aBegin-bEnd == 1
}

// Insert adds the closed range [begin, end] to the set, coalescing with any
// overlapping or adjacent existing interval. Intervals are few per session
// in practice, so this scans linearly rather than binary-searching: the
// touches-or-not decision for a candidate interval isn't a simple
// less-than comparison, which would make a binary search's monotonicity
// assumption fragile.
func (s *Set) Insert(begin, end uint64) {
	if end < begin {
		return
	}
	lo := 0
	for lo < len(s.ivals) && !touches(s.ivals[lo].Begin, s.ivals[lo].End, begin, end) && s.ivals[lo].End < begin {
		lo++
	}
	hi := lo
	for hi < len(s.ivals) && touches(s.ivals[hi].Begin, s.ivals[hi].End, begin, end) {
		if begin > s.ivals[hi].Begin {
			begin = s.ivals[hi].Begin
		}
		if end < s.ivals[hi].End {
			end = s.ivals[hi].End
		}
		hi++
	}
	merged := interval{Begin: begin, End: end}
	rest := append([]interval{}, s.ivals[hi:]...)
	s.ivals = append(s.ivals[:lo], append([]interval{merged}, rest...)...)
}

// ContainsEntirely reports whether the closed range [begin, end] is
// entirely covered by some single stored interval.
func (s *Set) ContainsEntirely(begin, end uint64) bool {
	i := sort.Search(len(s.ivals), func(i int) bool { return s.ivals[i].End >= begin })
	if i == len(s.ivals) {
		return false
	}
	return s.ivals[i].Begin <= begin && s.ivals[i].End >= end
}

// Ranges returns the stored intervals as closed [begin, end] pairs, in
// ascending order.
func (s *Set) Ranges() [][2]uint64 {
	out := make([][2]uint64, len(s.ivals))
	for i, iv := range s.ivals {
		out[i] = [2]uint64{iv.Begin, iv.End}
	}
	return out
}

// PopulateReportSegment returns the intersection of the set with the
// half-open range [lowerBound, upperBound), expressed as claims relative
// to lowerBound.
func PopulateReportSegment(s *Set, lowerBound, upperBound uint64) []wire.ReceptionClaim {
	if upperBound <= lowerBound {
		return nil
	}
	lastInclusive := upperBound - 1
	var claims []wire.ReceptionClaim
	for _, iv := range s.ivals {
		if iv.End < lowerBound || iv.Begin > lastInclusive {
			continue
		}
		b := iv.Begin
		if b < lowerBound {
			b = lowerBound
		}
		e := iv.End
		if e > lastInclusive {
			e = lastInclusive
		}
		claims = append(claims, wire.ReceptionClaim{Offset: b - lowerBound, Length: e - b + 1})
	}
	return claims
}

// Gaps returns the byte ranges within [lowerBound, upperBound) that are
// NOT covered by the set, as closed-interval [begin,end] pairs. Used by
// the sender to decide what to retransmit in response to a report.
func Gaps(s *Set, lowerBound, upperBound uint64) [][2]uint64 {
	if upperBound <= lowerBound {
		return nil
	}
	lastInclusive := upperBound - 1
	var gaps [][2]uint64
	cursor := lowerBound
	for _, iv := range s.ivals {
		if iv.End < lowerBound {
			continue
		}
		if iv.Begin > lastInclusive {
			break
		}
		b := iv.Begin
		if b > lastInclusive {
			break
		}
		if b > cursor {
			e := b - 1
			if e > lastInclusive {
				e = lastInclusive
			}
			gaps = append(gaps, [2]uint64{cursor, e})
		}
		if iv.End+1 > cursor {
			cursor = iv.End + 1
		}
	}
	if cursor <= lastInclusive {
		gaps = append(gaps, [2]uint64{cursor, lastInclusive})
	}
	return gaps
}

// SplitReportSegment partitions an oversize report into a sequence of
// reports whose claim lists concatenate to rpt.Claims and whose
// [LowerBound, UpperBound) sub-ranges tile rpt's range, each carrying at
// most maxClaims claims.
func SplitReportSegment(rpt *wire.ReportSegment, maxClaims int) []*wire.ReportSegment {
	if maxClaims <= 0 || len(rpt.Claims) <= maxClaims {
		cp := *rpt
		return []*wire.ReportSegment{&cp}
	}
	var out []*wire.ReportSegment
	for i := 0; i < len(rpt.Claims); i += maxClaims {
		end := i + maxClaims
		if end > len(rpt.Claims) {
			end = len(rpt.Claims)
		}
		chunk := rpt.Claims[i:end]

		lower := rpt.LowerBound
		if i > 0 {
			lower = rpt.LowerBound + chunk[0].Offset
		}
		// upper must meet the next piece's lower at its pre-adjustment
		// value (the next chunk's first claim's offset), not the end of
		// this chunk's last claim -- a gap between two claims that
		// straddles a chunk boundary would otherwise fall into neither
		// piece's [LowerBound, UpperBound) range.
		upper := rpt.UpperBound
		if end < len(rpt.Claims) {
			upper = rpt.LowerBound + rpt.Claims[end].Offset
		}

		rebased := make([]wire.ReceptionClaim, len(chunk))
		for j, c := range chunk {
			rebased[j] = wire.ReceptionClaim{Offset: rpt.LowerBound + c.Offset - lower, Length: c.Length}
		}

		piece := &wire.ReportSegment{
			Header:                 rpt.Header,
			ReportSerialNumber:     rpt.ReportSerialNumber,
			CheckpointSerialNumber: rpt.CheckpointSerialNumber,
			LowerBound:             lower,
			UpperBound:             upper,
			Claims:                 rebased,
		}
		out = append(out, piece)
	}
	return out
}
