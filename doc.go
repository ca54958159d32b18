// doc.go - top level documentation
//
// (c) Sudhi Herle 2018
//
// License GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package mph implements a minimal perfect hash function (MPHF) over a
// static set of 64-bit keys, using the BBHash/BooPHF cascaded-bitset
// construction: https://arxiv.org/abs/1702.03154.
//
// Given n distinct keys, Build produces an MPHF that maps every key to
// a unique index in [0, n). Construction proceeds in a fixed number of
// levels; each level claims the keys that hash to an uncontested bit
// position and passes the rest down to the next level. Keys that
// survive every level land in a small fallback table.
//
// The on-disk format (see MPHF.Save / Load) is a fixed little-endian
// layout chosen for bit-exact compatibility with independent
// implementations of the same algorithm - two implementations need not
// agree on which key gets which index, only that each one is
// internally consistent and loads back byte-for-byte.
//
// StoreWriter and StoreReader build on top of MPHF to provide an
// immutable on-disk key/value database: once frozen, a lookup reads the
// key's entry from the memory-mapped offset table, then reads the value
// record from the file and checks its siphash.
package mph
