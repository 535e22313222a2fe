package model

// SelectedBytesHash folds an ordered byte-index selection into a 64-bit
// pre-check value: each index, offset by one so index 0 differs from an
// empty selection, is shifted left by 16 bits per position (cycling every
// four positions) and combined with XOR.
//
// Two properties are deliberate and must not be "fixed":
//   - The hash is order-sensitive: [2,5] and [5,2] hash differently, and
//     downstream deduplication depends on that matching historical behavior.
//   - Beyond four selected bytes positions reuse shift amounts, so the hash
//     is only approximately collision-resistant for longer selections. It is
//     a cheap duplicate-selection filter, never a content digest; the store
//     deduplicates on the full selection, not on this value.
func SelectedBytesHash(selected []uint32) uint64 {
	var h uint64
	for i, b := range selected {
		h ^= uint64(b+1) << (16 * (i % 4))
	}
	return h
}
