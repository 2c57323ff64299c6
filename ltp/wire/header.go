package wire

// Header is the common prefix of every LTP segment (RFC 5326 §3.1).
type Header struct {
	Type              SegmentType
	SessionID         SessionID
	HeaderExtensions  []Extension
	TrailerExtensions []Extension
}

// Segment is implemented by every concrete segment type. Handlers type-switch
// on the concrete type rather than walking a class hierarchy.
type Segment interface {
	SegmentHeader() *Header
}

// DataSegment carries client service data, red or green, optionally flagged
// as a checkpoint.
type DataSegment struct {
	Header

	ClientServiceID uint64
	Offset          uint64
	Length          uint64

	// CheckpointSerialNumber and ReportSerialNumber are only present
	// (HasCheckpoint true) on checkpoint variants. ReportSerialNumber is
	// non-zero only when this checkpoint is a direct response to a
	// previously received report segment.
	HasCheckpoint          bool
	CheckpointSerialNumber uint64
	ReportSerialNumber     uint64

	// Data is, on the receive path, a slice the parser allocated for this
	// segment and, on the send path, a view into the session's shared
	// block buffer. Callers that need to retain a send-path view across
	// the call must copy it.
	Data []byte
}

func (d *DataSegment) SegmentHeader() *Header { return &d.Header }

// ReceptionClaim is one contiguous range of received bytes, relative to a
// report's LowerBound.
type ReceptionClaim struct {
	Offset uint64
	Length uint64
}

// ReportSegment lists, relative to [LowerBound, UpperBound), which byte
// ranges have been received.
type ReportSegment struct {
	Header

	ReportSerialNumber     uint64
	CheckpointSerialNumber uint64 // 0 if this report is asynchronous
	UpperBound             uint64
	LowerBound             uint64
	Claims                 []ReceptionClaim
}

func (r *ReportSegment) SegmentHeader() *Header { return &r.Header }

// ReportAckSegment acknowledges receipt of a report segment.
type ReportAckSegment struct {
	Header

	ReportSerialNumber uint64
}

func (r *ReportAckSegment) SegmentHeader() *Header { return &r.Header }

// CancelSegment is sent by either the block sender or the block receiver
// to abort a session.
type CancelSegment struct {
	Header

	Reason CancelReason
}

func (c *CancelSegment) SegmentHeader() *Header { return &c.Header }

// CancelAckSegment acknowledges a CancelSegment; it carries no content.
type CancelAckSegment struct {
	Header
}

func (c *CancelAckSegment) SegmentHeader() *Header { return &c.Header }
