// mixer.go -- the hash mixer used to probe bit positions at every cascade level
//
// (c) Sudhi Herle 2018
//
// License GPLv2
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mph

// h64 mixes 'key' with 'seed' and returns a 64-bit hash. This is the
// single xorshift-style round used at every level of the cascade; it
// must be computed as one expression over the original, unmodified
// 'h' so that independent implementations of this algorithm agree bit
// for bit. Decomposing this into a sequence of "h ^= ..." updates
// computes a different function entirely.
func h64(key, seed uint64) uint64 {
	h := seed
	return h ^ ((h << 7) ^ (key * (h >> 3)) ^ (^((h << 11) + (key ^ (h >> 5)))))
}

// hashIndexed returns the mixer output for 'key' at cascade level
// 'lvl', using the level index as the seed. It does not reduce the
// result; callers take it modulo the level's bit-vector size to get the
// bit position to probe. Since every operation in h64 carries bits only
// upward from the key, the result modulo a power of two depends only on
// the key's low bits, so probes at different levels are not independent.
func hashIndexed(key uint64, lvl uint32) uint64 {
	return h64(key, uint64(lvl))
}
