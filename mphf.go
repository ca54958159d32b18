// mphf.go -- cascaded-bitset minimal perfect hash function
//
// Implements the BBHash algorithm in: https://arxiv.org/abs/1702.03154
//
// Inspired by D Gryski's implementation of bbHash (https://github.com/dgryski/go-boomphf)
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

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// DefaultGamma is the expansion factor used when callers don't supply
// one. Empirically, 2.0 is found to be a good balance between
// cascade depth and space usage.
const DefaultGamma float64 = 2.0

// NbLevels is the fixed number of cascade levels every MPHF builds,
// regardless of key-set size. Keys that survive every level spill
// into the fallback table.
const NbLevels = 25

// Sentinel is returned by Lookup for a key that matches no level and
// has no fallback entry. It is never a valid index for |K| < 2^64-1.
const Sentinel uint64 = math.MaxUint64

// MPHF is a computed minimal perfect hash for a fixed set of keys,
// built using the cascaded-bitset construction.
type MPHF struct {
	gamma          float64
	nbLevels       uint32
	nelem          uint64
	lastbitsetrank uint64

	levels []*bitVector

	// fallback holds keys that survived every cascade level. fbKeys
	// preserves insertion order so that saving the same MPHF twice
	// produces byte-identical output.
	fallback map[uint64]uint64
	fbKeys   []uint64
}

// Builder accumulates keys before Freeze() runs the cascade. This
// mirrors the teacher's Add/Freeze construction idiom.
type Builder struct {
	keys  []uint64
	gamma float64
}

// NewBuilder creates a builder for constructing an MPHF via the
// cascaded-bitset algorithm. 'gamma' is the load factor from spec §3;
// values <= 0 fall back to DefaultGamma.
func NewBuilder(gamma float64) *Builder {
	if gamma <= 0 {
		gamma = DefaultGamma
	}
	return &Builder{
		keys:  make([]uint64, 0, 1024),
		gamma: gamma,
	}
}

// Add adds a single key to the builder. The caller is responsible for
// not adding duplicates; behavior is undefined (but non-crashing) if
// violated.
func (b *Builder) Add(key uint64) {
	b.keys = append(b.keys, key)
}

// Freeze runs the cascade over every key added so far and returns the
// resulting MPHF.
func (b *Builder) Freeze() (*MPHF, error) {
	return build(b.keys, b.gamma)
}

// Build ingests 'keys' and materializes an MPHF in one call. It is the
// direct equivalent of spec §6's conceptual build(keys, n, gamma) API.
func Build(keys []uint64, gamma float64) (*MPHF, error) {
	if gamma <= 0 {
		gamma = DefaultGamma
	}
	return build(keys, gamma)
}

func build(keys []uint64, gamma float64) (*MPHF, error) {
	m := &MPHF{
		gamma:    gamma,
		nbLevels: NbLevels,
		nelem:    uint64(len(keys)),
		fallback: make(map[uint64]uint64),
		levels:   make([]*bitVector, NbLevels),
	}

	remaining := keys
	for lvl := uint32(0); lvl < NbLevels; lvl++ {
		remaining = m.buildLevel(lvl, remaining)
	}

	m.preComputeRank()

	for i, k := range remaining {
		idx := m.lastbitsetrank + uint64(i)
		m.fallback[k] = idx
		m.fbKeys = append(m.fbKeys, k)
	}

	return m, nil
}

// levelSize returns size_l = max(ceil(gamma * r), 1) for a level that
// starts with 'r' remaining keys.
func (m *MPHF) levelSize(r int) uint64 {
	sz := uint64(math.Ceil(m.gamma * float64(r)))
	if sz < 1 {
		sz = 1
	}
	return sz
}

// buildLevel runs the two-pass assignment for a single cascade level
// and returns the keys that must cascade to the next level.
func (m *MPHF) buildLevel(lvl uint32, keys []uint64) []uint64 {
	sz := m.levelSize(len(keys))
	A := newBitVector(sz)
	coll := newBitVector(sz)

	// first pass: mark positions, detect collisions
	for _, k := range keys {
		p := hashIndexed(k, lvl) % sz
		if A.IsSet(p) {
			coll.Set(p)
		} else {
			A.Set(p)
		}
	}

	// second pass: reject colliding positions, collect survivors
	redo := make([]uint64, 0, len(keys)/4)
	for _, k := range keys {
		p := hashIndexed(k, lvl) % sz
		if coll.IsSet(p) {
			redo = append(redo, k)
		}
	}
	for _, k := range redo {
		p := hashIndexed(k, lvl) % sz
		A.v[p/64] &^= uint64(1) << (p % 64)
	}

	m.levels[lvl] = A
	return redo
}

// preComputeRank chains buildRanks across all levels in order; level 0
// starts at offset 0 and each subsequent level starts where the prior
// one left off. The final offset becomes lastbitsetrank, the base
// index for the fallback table.
func (m *MPHF) preComputeRank() {
	var offset uint64
	for _, bv := range m.levels {
		offset = bv.buildRanks(offset)
	}
	m.lastbitsetrank = offset
}

// Lookup returns the unique index assigned to 'key'. The result is
// only meaningful for keys that were part of the original build set;
// for any other key, Lookup may return any value in [0, Len()) or
// Sentinel -- it is not a membership test.
func (m *MPHF) Lookup(key uint64) uint64 {
	for lvl, bv := range m.levels {
		sz := bv.Size()
		p := hashIndexed(key, uint32(lvl)) % sz
		if bv.IsSet(p) {
			return bv.Rank(p)
		}
	}

	if idx, ok := m.fallback[key]; ok {
		return idx
	}
	return Sentinel
}

// Len returns the number of keys this MPHF was built over.
func (m *MPHF) Len() uint64 {
	return m.nelem
}

// Gamma returns the load factor used to build this MPHF.
func (m *MPHF) Gamma() float64 {
	return m.gamma
}

// DumpMeta writes ad-hoc construction diagnostics to 'w', mirroring the
// teacher's bbHash.DumpMeta.
func (m *MPHF) DumpMeta(w io.Writer) {
	var b bytes.Buffer

	fmt.Fprintf(&b, "mphf: gamma %4.2f; %d levels; %d keys; %d in fallback\n",
		m.gamma, len(m.levels), m.nelem, len(m.fallback))
	for i, bv := range m.levels {
		fmt.Fprintf(&b, "  %2d: %d bits (%d words)\n", i, bv.Size(), bv.Words())
	}

	w.Write(b.Bytes())
}
