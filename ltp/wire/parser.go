package wire

import (
	"errors"
	"fmt"

	"github.com/deepspacecomm/ltpengine/ltp/sdnv"
)

// ErrMalformed is wrapped by every parse failure the state machine can
// produce: bad SDNV, disallowed zero length, wrong version, zero claim
// count, or a content-length mismatch. The parser always resets to its
// initial state on error; there is never partial delivery of a segment.
var ErrMalformed = errors.New("wire: malformed segment")

type mainState int

const (
	stateControlByte mainState = iota
	stateOriginatorSDNV
	stateSessionNumberSDNV
	stateExtCountByte
	stateHeaderExtTagByte
	stateHeaderExtLenSDNV
	stateHeaderExtValue

	stateDataClientServiceIDSDNV
	stateDataOffsetSDNV
	stateDataLengthSDNV
	stateDataCheckpointSerialSDNV
	stateDataReportSerialSDNV
	stateDataPayload

	stateReportSerialSDNV
	stateReportCheckpointSerialSDNV
	stateReportUpperBoundSDNV
	stateReportLowerBoundSDNV
	stateReportClaimCountSDNV
	stateReportClaimOffsetSDNV
	stateReportClaimLengthSDNV

	stateReportAckSerialSDNV

	stateCancelReasonByte

	stateTrailerExtTagByte
	stateTrailerExtLenSDNV
	stateTrailerExtValue
)

// Parser is a resumable, streaming decoder for a byte stream of
// back-to-back LTP segments. Feeding it one byte at a time produces
// exactly the same completed segments as feeding it the whole buffer at
// once.
type Parser struct {
	state mainState

	// staging for the SDNV currently being accumulated; capacity
	// reserved to the maximum encoded length so steady-state parsing
	// never reallocates.
	sdnvStage []byte

	header         Header
	numHeaderExts  uint8
	numTrailerExts uint8
	curExtTag      uint8
	curExtLen      uint64
	curExtValue    []byte

	data DataSegment
	rpt  ReportSegment
	rak  ReportAckSegment
	cnl  CancelSegment

	claimOffset uint64

	// pendingComplete builds the final segment from its trailer
	// extensions once all of them have arrived.
	pendingComplete func(exts []Extension) Segment

	// OnSessionIDDecoded, if set, fires as soon as the session id is known
	// (before header extensions or content), so a caller streaming a large
	// red-part payload can route bytes to the right session without
	// buffering the whole segment first, per spec.md §4.8's ingress
	// dispatch note.
	OnSessionIDDecoded func(SessionID)
}

// NewParser returns a Parser ready to decode the start of a segment stream.
func NewParser() *Parser {
	p := &Parser{}
	p.sdnvStage = make([]byte, 0, sdnv.MaxEncodedLen64)
	return p
}

// Reset returns the parser to its initial state, discarding any
// in-progress segment. OnSessionIDDecoded survives a Reset.
func (p *Parser) Reset() {
	*p = Parser{sdnvStage: p.sdnvStage[:0], OnSessionIDDecoded: p.OnSessionIDDecoded}
}

// Feed decodes as many complete segments as buf contains and returns
// them in order. A segment split across calls resumes correctly on the
// next Feed. On malformed input the parser resets itself and returns
// ErrMalformed (wrapped with detail); bytes already consumed for other,
// earlier, complete segments in the same call are still returned.
func (p *Parser) Feed(buf []byte) ([]Segment, error) {
	var out []Segment
	for _, b := range buf {
		seg, err := p.feedByte(b)
		if err != nil {
			p.Reset()
			return out, err
		}
		if seg != nil {
			out = append(out, seg)
		}
	}
	return out, nil
}

// accumulateSDNV appends b to the SDNV staging buffer and reports whether the
// value is complete (terminator byte seen). On internal error it returns
// a non-nil error; the caller must propagate it without further state
// changes (Feed will Reset).
func (p *Parser) accumulateSDNV(b byte) (value uint64, done bool, err error) {
	if len(p.sdnvStage) == sdnv.MaxEncodedLen64 {
		return 0, false, fmt.Errorf("%w: sdnv exceeds %d bytes", ErrMalformed, sdnv.MaxEncodedLen64)
	}
	p.sdnvStage = append(p.sdnvStage, b)
	if b&0x80 != 0 {
		return 0, false, nil
	}
	v, n, err := sdnv.Decode64(p.sdnvStage)
	if err != nil || n != len(p.sdnvStage) {
		return 0, false, fmt.Errorf("%w: invalid sdnv", ErrMalformed)
	}
	p.sdnvStage = p.sdnvStage[:0]
	return v, true, nil
}

func (p *Parser) feedByte(b byte) (Segment, error) {
	switch p.state {
	case stateControlByte:
		version := b >> 4
		if version != Version {
			return nil, fmt.Errorf("%w: version %d", ErrMalformed, version)
		}
		t := SegmentType(b & 0x0f)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: undefined segment type 0x%x", ErrMalformed, uint8(t))
		}
		p.header = Header{Type: t}
		p.state = stateOriginatorSDNV

	case stateOriginatorSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.header.SessionID.OriginatorEngineID = v
			p.state = stateSessionNumberSDNV
		}

	case stateSessionNumberSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.header.SessionID.SessionNumber = v
			p.state = stateExtCountByte
			if p.OnSessionIDDecoded != nil {
				p.OnSessionIDDecoded(p.header.SessionID)
			}
		}

	case stateExtCountByte:
		p.numHeaderExts = b >> 4
		p.numTrailerExts = b & 0x0f
		if p.numHeaderExts > 0 {
			p.state = stateHeaderExtTagByte
			return nil, nil
		}
		return p.enterContentState()

	case stateHeaderExtTagByte:
		p.curExtTag = b
		p.state = stateHeaderExtLenSDNV

	case stateHeaderExtLenSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.curExtLen = v
			p.curExtValue = make([]byte, 0, v)
			if v == 0 {
				p.header.HeaderExtensions = append(p.header.HeaderExtensions, Extension{Tag: p.curExtTag})
				p.numHeaderExts--
				if p.numHeaderExts > 0 {
					p.state = stateHeaderExtTagByte
				} else {
					return p.enterContentState()
				}
			} else {
				p.state = stateHeaderExtValue
			}
		}

	case stateHeaderExtValue:
		p.curExtValue = append(p.curExtValue, b)
		if uint64(len(p.curExtValue)) == p.curExtLen {
			p.header.HeaderExtensions = append(p.header.HeaderExtensions, Extension{Tag: p.curExtTag, Value: p.curExtValue})
			p.curExtValue = nil
			p.numHeaderExts--
			if p.numHeaderExts > 0 {
				p.state = stateHeaderExtTagByte
			} else {
				return p.enterContentState()
			}
		}

	case stateDataClientServiceIDSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.data.ClientServiceID = v
			p.state = stateDataOffsetSDNV
		}

	case stateDataOffsetSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.data.Offset = v
			p.state = stateDataLengthSDNV
		}

	case stateDataLengthSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			if v == 0 {
				return nil, fmt.Errorf("%w: data segment with zero length", ErrMalformed)
			}
			p.data.Length = v
			if p.data.Type.IsCheckpoint() {
				p.state = stateDataCheckpointSerialSDNV
			} else {
				p.state = stateDataPayload
				return p.maybeFinishData()
			}
		}

	case stateDataCheckpointSerialSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.data.HasCheckpoint = true
			p.data.CheckpointSerialNumber = v
			p.state = stateDataReportSerialSDNV
		}

	case stateDataReportSerialSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.data.ReportSerialNumber = v
			p.state = stateDataPayload
			return p.maybeFinishData()
		}

	case stateDataPayload:
		p.data.Data = append(p.data.Data, b)
		if uint64(len(p.data.Data)) == p.data.Length {
			return p.finishDataOrTrailer()
		}

	case stateReportSerialSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.rpt.ReportSerialNumber = v
			p.state = stateReportCheckpointSerialSDNV
		}

	case stateReportCheckpointSerialSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.rpt.CheckpointSerialNumber = v
			p.state = stateReportUpperBoundSDNV
		}

	case stateReportUpperBoundSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.rpt.UpperBound = v
			p.state = stateReportLowerBoundSDNV
		}

	case stateReportLowerBoundSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.rpt.LowerBound = v
			p.state = stateReportClaimCountSDNV
		}

	case stateReportClaimCountSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			if v == 0 {
				return nil, fmt.Errorf("%w: report with zero claims", ErrMalformed)
			}
			p.rpt.Claims = make([]ReceptionClaim, 0, v)
			p.state = stateReportClaimOffsetSDNV
		}

	case stateReportClaimOffsetSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.claimOffset = v
			p.state = stateReportClaimLengthSDNV
		}

	case stateReportClaimLengthSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			if v == 0 {
				return nil, fmt.Errorf("%w: reception claim with zero length", ErrMalformed)
			}
			p.rpt.Claims = append(p.rpt.Claims, ReceptionClaim{Offset: p.claimOffset, Length: v})
			if uint64(len(p.rpt.Claims)) == uint64(cap(p.rpt.Claims)) {
				return p.finishReportOrTrailer()
			}
			p.state = stateReportClaimOffsetSDNV
		}

	case stateReportAckSerialSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.rak.ReportSerialNumber = v
			return p.finishReportAckOrTrailer()
		}

	case stateCancelReasonByte:
		p.cnl.Reason = CancelReason(b)
		return p.finishCancelOrTrailer()

	case stateTrailerExtTagByte:
		p.curExtTag = b
		p.state = stateTrailerExtLenSDNV

	case stateTrailerExtLenSDNV:
		v, done, err := p.accumulateSDNV(b)
		if err != nil {
			return nil, err
		}
		if done {
			p.curExtLen = v
			p.curExtValue = make([]byte, 0, v)
			if v == 0 {
				return p.finishOneTrailerExt(Extension{Tag: p.curExtTag})
			}
			p.state = stateTrailerExtValue
		}

	case stateTrailerExtValue:
		p.curExtValue = append(p.curExtValue, b)
		if uint64(len(p.curExtValue)) == p.curExtLen {
			ext := Extension{Tag: p.curExtTag, Value: p.curExtValue}
			p.curExtValue = nil
			return p.finishOneTrailerExt(ext)
		}

	default:
		return nil, fmt.Errorf("%w: parser in unreachable state", ErrMalformed)
	}
	return nil, nil
}

// enterContentState routes to the type-specific content parser once the
// header and any header extensions are fully read. It returns early
// (non-nil segment) only for content-free segment types (cancel-ack).
func (p *Parser) enterContentState() (Segment, error) {
	t := p.header.Type
	switch {
	case t == SegCancelAckToSender || t == SegCancelAckToReceiver:
		if p.numTrailerExts > 0 {
			p.state = stateTrailerExtTagByte
			return nil, nil
		}
		ca := CancelAckSegment{Header: p.header}
		p.finishSegment()
		return &ca, nil
	case t.IsRedData() || t.IsGreenData():
		p.data = DataSegment{Header: p.header}
		p.state = stateDataClientServiceIDSDNV
	case t == SegReport:
		p.rpt = ReportSegment{Header: p.header}
		p.state = stateReportSerialSDNV
	case t == SegReportAck:
		p.rak = ReportAckSegment{Header: p.header}
		p.state = stateReportAckSerialSDNV
	case t == SegCancelFromSender || t == SegCancelFromReceiver:
		p.cnl = CancelSegment{Header: p.header}
		p.state = stateCancelReasonByte
	default:
		return nil, fmt.Errorf("%w: unhandled segment type %s", ErrMalformed, t)
	}
	return nil, nil
}

func (p *Parser) maybeFinishData() (Segment, error) {
	p.data.Data = make([]byte, 0, p.data.Length)
	return nil, nil
}

func (p *Parser) finishDataOrTrailer() (Segment, error) {
	if p.numTrailerExts > 0 {
		p.state = stateTrailerExtTagByte
		p.pendingComplete = func(exts []Extension) Segment {
			d := p.data
			d.TrailerExtensions = exts
			return &d
		}
		return nil, nil
	}
	d := p.data
	p.finishSegment()
	return &d, nil
}

func (p *Parser) finishReportOrTrailer() (Segment, error) {
	if p.numTrailerExts > 0 {
		p.state = stateTrailerExtTagByte
		p.pendingComplete = func(exts []Extension) Segment {
			r := p.rpt
			r.TrailerExtensions = exts
			return &r
		}
		return nil, nil
	}
	r := p.rpt
	p.finishSegment()
	return &r, nil
}

func (p *Parser) finishReportAckOrTrailer() (Segment, error) {
	if p.numTrailerExts > 0 {
		p.state = stateTrailerExtTagByte
		p.pendingComplete = func(exts []Extension) Segment {
			r := p.rak
			r.TrailerExtensions = exts
			return &r
		}
		return nil, nil
	}
	r := p.rak
	p.finishSegment()
	return &r, nil
}

func (p *Parser) finishCancelOrTrailer() (Segment, error) {
	if p.numTrailerExts > 0 {
		p.state = stateTrailerExtTagByte
		p.pendingComplete = func(exts []Extension) Segment {
			c := p.cnl
			c.TrailerExtensions = exts
			return &c
		}
		return nil, nil
	}
	c := p.cnl
	p.finishSegment()
	return &c, nil
}

func (p *Parser) finishOneTrailerExt(ext Extension) (Segment, error) {
	p.header.TrailerExtensions = append(p.header.TrailerExtensions, ext)
	p.numTrailerExts--
	if p.numTrailerExts > 0 {
		p.state = stateTrailerExtTagByte
		return nil, nil
	}
	exts := p.header.TrailerExtensions
	var seg Segment
	if p.pendingComplete != nil {
		seg = p.pendingComplete(exts)
		p.pendingComplete = nil
	} else {
		// content-free segment (cancel-ack) with trailer extensions
		ca := CancelAckSegment{Header: p.header}
		ca.TrailerExtensions = exts
		seg = &ca
	}
	p.finishSegment()
	return seg, nil
}

func (p *Parser) finishSegment() {
	p.state = stateControlByte
	p.header = Header{}
	p.numHeaderExts = 0
	p.numTrailerExts = 0
}
