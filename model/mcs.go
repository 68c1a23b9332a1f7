package model

// mcsEntry is one row of the 64QAM MCS table: modulation order (bits per
// symbol) and target code rate scaled by 1024.
type mcsEntry struct {
	qm       uint32
	rate1024 uint32
}

// mcsTable is TS 38.214 table 5.1.3.1-1 (MCS index table 1 for PDSCH).
var mcsTable = [MaxMCS + 1]mcsEntry{
	{2, 120}, {2, 157}, {2, 193}, {2, 251}, {2, 308},
	{2, 379}, {2, 449}, {2, 526}, {2, 602}, {2, 679},
	{4, 340}, {4, 378}, {4, 434}, {4, 490}, {4, 553},
	{4, 616}, {4, 658}, {6, 438}, {6, 466}, {6, 517},
	{6, 567}, {6, 616}, {6, 666}, {6, 719}, {6, 772},
	{6, 822}, {6, 873}, {6, 910}, {6, 948},
}

// MaxMCS is the largest valid MCS index in the 64QAM table.
const MaxMCS = 28

// nrePerPRB is the nominal number of resource elements available for data
// in one PRB over one slot: 12 subcarriers times 14 symbols, minus typical
// DMRS and control overhead.
const nrePerPRB = 156

// TBSBytes returns the transport block size in bytes for a grant of nPRB
// PRBs at the given MCS index. It panics if mcs exceeds MaxMCS.
func TBSBytes(mcs, nPRB uint32) uint32 {
	e := mcsTable[mcs]
	bits := uint64(nrePerPRB) * uint64(nPRB) * uint64(e.qm) * uint64(e.rate1024) / 1024
	return uint32(bits / 8)
}

// PRBsForBytes returns the smallest PRB count whose transport block at the
// given MCS holds at least the requested number of bytes, capped at MaxPRBs.
// A zero request returns zero. It panics if mcs exceeds MaxMCS.
func PRBsForBytes(bytes, mcs uint32) uint32 {
	if bytes == 0 {
		return 0
	}
	e := mcsTable[mcs]
	bitsPerPRB1024 := uint64(nrePerPRB) * uint64(e.qm) * uint64(e.rate1024)
	need := (uint64(bytes)*8*1024 + bitsPerPRB1024 - 1) / bitsPerPRB1024
	if need > MaxPRBs {
		return MaxPRBs
	}
	return uint32(need)
}
