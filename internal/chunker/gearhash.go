package chunker

// gearTable is a fixed 256-entry table of pseudo-random 64-bit values used
// to roll a hash over the last few bytes of input so that chunk boundaries
// are determined by content, not by file offset. The values are generated
// deterministically at init time from a fixed seed so that every machine
// running this package produces identical boundaries for identical bytes
// (spec §4.1's "deterministic" requirement).
var gearTable [256]uint64

func init() {
	// A small deterministic LCG seeds the table. This is not a
	// cryptographic construction — it only needs to scatter the 8 bits of
	// input byte value across 64 bits of rolling state so that the
	// boundary test ("low N bits are zero") behaves like a content-defined
	// split point. The chunk and file hashes that matter for integrity are
	// SHA-256, computed separately over the resulting chunk bytes.
	var state uint64 = 0x9e3779b97f4a7c15
	for i := range gearTable {
		state = state*6364136223846793005 + 1442695040888963407
		v := state
		v ^= v >> 33
		v *= 0xff51afd7ed558ccd
		v ^= v >> 33
		gearTable[i] = v
	}
}
