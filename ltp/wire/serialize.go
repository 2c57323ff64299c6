package wire

import "github.com/deepspacecomm/ltpengine/ltp/sdnv"

func appendExtensions(dst []byte, exts []Extension) []byte {
	for _, e := range exts {
		dst = append(dst, e.Tag)
		dst = sdnv.Encode64(dst, uint64(len(e.Value)))
		dst = append(dst, e.Value...)
	}
	return dst
}

// appendHeader writes the control byte, session id, the extension-count
// byte (both nibbles, taken from h), and the header extensions. The
// trailer extensions themselves are left to the caller to write last.
func appendHeader(dst []byte, h *Header) []byte {
	dst = append(dst, byte(h.Type)&0x0f)
	dst = sdnv.Encode64(dst, h.SessionID.OriginatorEngineID)
	dst = sdnv.Encode64(dst, h.SessionID.SessionNumber)
	dst = append(dst, byte(len(h.HeaderExtensions))<<4|byte(len(h.TrailerExtensions)))
	dst = appendExtensions(dst, h.HeaderExtensions)
	return dst
}

// Serialize renders seg as a single contiguous datagram, including any
// data payload. Use SerializeHeaderOnly plus the caller's own scatter-
// gather list to avoid copying a large red-part payload.
func Serialize(seg Segment) []byte {
	switch s := seg.(type) {
	case *DataSegment:
		dst := appendHeader(nil, &s.Header)
		dst = appendDataContent(dst, s)
		dst = append(dst, s.Data...)
		return appendExtensions(dst, s.TrailerExtensions)
	case *ReportSegment:
		dst := appendHeader(nil, &s.Header)
		dst = appendReportContent(dst, s)
		return appendExtensions(dst, s.TrailerExtensions)
	case *ReportAckSegment:
		dst := appendHeader(nil, &s.Header)
		dst = sdnv.Encode64(dst, s.ReportSerialNumber)
		return appendExtensions(dst, s.TrailerExtensions)
	case *CancelSegment:
		dst := appendHeader(nil, &s.Header)
		dst = append(dst, byte(s.Reason))
		return appendExtensions(dst, s.TrailerExtensions)
	case *CancelAckSegment:
		dst := appendHeader(nil, &s.Header)
		return appendExtensions(dst, s.TrailerExtensions)
	default:
		panic("wire: unknown segment type in Serialize")
	}
}

// SerializeHeaderOnly renders everything in seg except the data payload
// itself (DataSegment.Data), for scatter-gather sends where the payload is
// a borrowed view into the session's shared block buffer.
func SerializeHeaderOnly(s *DataSegment) []byte {
	dst := appendHeader(nil, &s.Header)
	dst = appendDataContent(dst, s)
	return dst
}

func appendDataContent(dst []byte, s *DataSegment) []byte {
	dst = sdnv.Encode64(dst, s.ClientServiceID)
	dst = sdnv.Encode64(dst, s.Offset)
	dst = sdnv.Encode64(dst, s.Length)
	if s.HasCheckpoint {
		dst = sdnv.Encode64(dst, s.CheckpointSerialNumber)
		dst = sdnv.Encode64(dst, s.ReportSerialNumber)
	}
	return dst
}

func appendReportContent(dst []byte, r *ReportSegment) []byte {
	dst = sdnv.Encode64(dst, r.ReportSerialNumber)
	dst = sdnv.Encode64(dst, r.CheckpointSerialNumber)
	dst = sdnv.Encode64(dst, r.UpperBound)
	dst = sdnv.Encode64(dst, r.LowerBound)
	dst = sdnv.Encode64(dst, uint64(len(r.Claims)))
	for _, c := range r.Claims {
		dst = sdnv.Encode64(dst, c.Offset)
		dst = sdnv.Encode64(dst, c.Length)
	}
	return dst
}
