package fragment

import (
	"testing"

	"github.com/deepspacecomm/ltpengine/ltp/wire"
	"github.com/stretchr/testify/require"
)

func TestInsertCoalescesOverlapAndAdjacency(t *testing.T) {
	s := New()
	s.Insert(10, 20)
	s.Insert(21, 25) // adjacent, should merge
	s.Insert(5, 9)   // adjacent on the left
	s.Insert(30, 40) // disjoint
	s.Insert(26, 29) // bridges the two remaining groups

	require.Equal(t, [][2]uint64{{5, 40}}, s.Ranges())
}

func TestInsertDisjointStaysSeparate(t *testing.T) {
	s := New()
	s.Insert(0, 3)
	s.Insert(10, 13)
	require.Equal(t, [][2]uint64{{0, 3}, {10, 13}}, s.Ranges())
}

func TestContainsEntirely(t *testing.T) {
	s := New()
	s.Insert(0, 9)
	require.True(t, s.ContainsEntirely(2, 5))
	require.True(t, s.ContainsEntirely(0, 9))
	require.False(t, s.ContainsEntirely(5, 10))
	require.False(t, s.ContainsEntirely(20, 25))
}

func TestPopulateReportSegment(t *testing.T) {
	s := New()
	s.Insert(0, 3)
	s.Insert(5, 7)
	claims := PopulateReportSegment(s, 0, 8)
	require.Equal(t, []wire.ReceptionClaim{{Offset: 0, Length: 4}, {Offset: 5, Length: 3}}, claims)
}

func TestGaps(t *testing.T) {
	s := New()
	s.Insert(0, 3)
	s.Insert(5, 7)
	gaps := Gaps(s, 0, 10)
	require.Equal(t, [][2]uint64{{4, 4}, {8, 9}}, gaps)
}

func TestGapsEntireRangeMissing(t *testing.T) {
	s := New()
	gaps := Gaps(s, 0, 5)
	require.Equal(t, [][2]uint64{{0, 4}}, gaps)
}

func TestSplitReportSegmentTilesAndConcatenates(t *testing.T) {
	rpt := &wire.ReportSegment{
		ReportSerialNumber: 1, LowerBound: 0, UpperBound: 20,
		Claims: []wire.ReceptionClaim{
			{Offset: 0, Length: 2}, {Offset: 4, Length: 2}, {Offset: 8, Length: 2},
			{Offset: 12, Length: 2}, {Offset: 16, Length: 2},
		},
	}
	pieces := SplitReportSegment(rpt, 2)
	require.Len(t, pieces, 3)

	var concatenated []wire.ReceptionClaim
	for i, p := range pieces {
		if i > 0 {
			require.Equal(t, pieces[i-1].UpperBound, p.LowerBound)
		}
		for _, c := range p.Claims {
			concatenated = append(concatenated, wire.ReceptionClaim{
				Offset: p.LowerBound + c.Offset - rpt.LowerBound,
				Length: c.Length,
			})
		}
	}
	require.Equal(t, rpt.Claims, concatenated)
	require.Equal(t, rpt.LowerBound, pieces[0].LowerBound)
	require.Equal(t, rpt.UpperBound, pieces[len(pieces)-1].UpperBound)
}

func TestSplitReportSegmentNoopWhenUnderLimit(t *testing.T) {
	rpt := &wire.ReportSegment{Claims: []wire.ReceptionClaim{{Offset: 0, Length: 1}}}
	pieces := SplitReportSegment(rpt, 5)
	require.Len(t, pieces, 1)
	require.Equal(t, rpt, pieces[0])
}
