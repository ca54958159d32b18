// mixer_test.go -- pinned test vectors for the hash mixer
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

import "testing"

// These vectors pin the one-shot mixer expression. An implementation
// that decomposes it into a sequence of "h ^= ..." updates computes a
// different function and will fail this test.
func TestMixerVectors(t *testing.T) {
	assert := newAsserter(t)

	cases := []struct {
		key, seed uint64
		want      uint64
	}{
		{0, 0, 0xffffffffffffffff},
		{1, 0, 0xfffffffffffffffe},
		{0, 1, 0xfffffffffffff77e},
		{0xDEADBEEF, 0x12345678, 0xfe0548d9bdcb709a},
	}

	for _, c := range cases {
		got := h64(c.key, c.seed)
		assert(got == c.want, "h64(%#x, %#x): exp %#x, saw %#x", c.key, c.seed, c.want, got)
	}
}

func TestHashIndexedReduces(t *testing.T) {
	assert := newAsserter(t)

	sz := uint64(37)
	for lvl := uint32(0); lvl < 25; lvl++ {
		p := hashIndexed(0xcafef00ddeadbeef, lvl) % sz
		assert(p < sz, "level %d: probe %d out of range", lvl, p)
	}
}
