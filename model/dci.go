package model

// DCIFormat identifies the downlink control information format of a grant.
// The format decides how the HARQ feedback timing field is encoded.
type DCIFormat uint8

const (
	// DCIFormat1_0 is the fallback DL format; its feedback timing field
	// carries the slot offset between transmission and acknowledgment.
	DCIFormat1_0 DCIFormat = iota
	// DCIFormat1_1 is the non-fallback DL format.
	DCIFormat1_1
)

// DLDCI carries the downlink control information of one PDSCH grant. The
// HARQ process fills the retransmission-related fields (NDI, MCS, RV,
// feedback timing) as a side effect of starting a transmission.
type DLDCI struct {
	Format       DCIFormat
	PID          uint8
	NDI          bool
	MCS          uint32
	RV           uint32
	HARQFeedback uint32
}

// ULDCI carries the uplink control information of one PUSCH grant.
type ULDCI struct {
	PID uint8
	NDI bool
	MCS uint32
	RV  uint32
}
