package channel

// TCPInfo is a snapshot of the kernel's TCP connection state.
// Platforms fill the fields they report and leave the rest zero.
type TCPInfo struct {
	State        uint8
	CAState      uint8
	Retransmits  uint8
	Probes       uint8
	Backoff      uint8
	Options      uint8
	RTO          uint32
	ATO          uint32
	SndMSS       uint32
	RcvMSS       uint32
	Unacked      uint32
	Sacked       uint32
	Lost         uint32
	Retrans      uint32
	Fackets      uint32
	LastDataSent uint32
	LastAckSent  uint32
	LastDataRecv uint32
	LastAckRecv  uint32
	PMTU         uint32
	RcvSSThresh  uint32
	RTT          uint32
	RTTVar       uint32
	SndSSThresh  uint32
	SndCwnd      uint32
	AdvMSS       uint32
	Reordering   uint32
	RcvRTT       uint32
	RcvSpace     uint32
	TotalRetrans uint32
}
