// serializer.go -- bit-exact binary marshal/unmarshal for MPHF
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
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// headerSize is the fixed 28-byte header from spec §4.4: gamma
// float64, nb_levels uint32, lastbitsetrank uint64, nelem uint64.
const headerSize = 8 + 4 + 8 + 8

// maxPlausibleLevels guards against a corrupt/truncated stream
// claiming an absurd level count before we start allocating memory
// for it. The format always writes NbLevels (25); this only rejects
// garbage.
const maxPlausibleLevels = 1 << 16

// Save writes this MPHF in the fixed little-endian format from spec
// §4.4. Files written by any conforming implementation of this
// algorithm are loadable by any other.
func (m *MPHF) Save(w io.Writer) error {
	ew := newErrWriter(w, "mphf")
	le := binary.LittleEndian

	var hdr [headerSize]byte
	le.PutUint64(hdr[0:8], math.Float64bits(m.gamma))
	le.PutUint32(hdr[8:12], m.nbLevels)
	le.PutUint64(hdr[12:20], m.lastbitsetrank)
	le.PutUint64(hdr[20:28], m.nelem)
	ew.Write(hdr[:])

	for _, bv := range m.levels {
		if err := bv.MarshalBinary(ew); err != nil {
			return err
		}
	}

	var x [8]byte
	le.PutUint64(x[:], uint64(len(m.fbKeys)))
	ew.Write(x[:])

	for _, k := range m.fbKeys {
		le.PutUint64(x[:], k)
		ew.Write(x[:])
		le.PutUint64(x[:], m.fallback[k])
		ew.Write(x[:])
	}

	return ew.Error()
}

// Load reads a previously saved MPHF from 'r'. Malformed headers,
// implausible level counts, or truncated streams abort the load with
// an error that names the offending offset.
func Load(r io.Reader) (*MPHF, error) {
	le := binary.LittleEndian

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("mphf: read header: %w: %v", ErrTooSmall, err)
	}

	gamma := math.Float64frombits(le.Uint64(hdr[0:8]))
	nbLevels := le.Uint32(hdr[8:12])
	lastbitsetrank := le.Uint64(hdr[12:20])
	nelem := le.Uint64(hdr[20:28])

	if nbLevels == 0 || nbLevels > maxPlausibleLevels {
		return nil, errCorrupt("mphf", 8, fmt.Sprintf("implausible nb_levels %d", nbLevels))
	}

	m := &MPHF{
		gamma:          gamma,
		nbLevels:       nbLevels,
		nelem:          nelem,
		lastbitsetrank: lastbitsetrank,
		fallback:       make(map[uint64]uint64),
		levels:         make([]*bitVector, nbLevels),
	}

	off := int64(headerSize)
	for i := uint32(0); i < nbLevels; i++ {
		bv, err := unmarshalBitVector(r)
		if err != nil {
			return nil, fmt.Errorf("mphf: level %d at offset %d: %w", i, off, err)
		}
		m.levels[i] = bv
		off += int64(8 + 8 + 8*bv.Words() + 8 + 8*uint64(len(bv.ranks)))
	}

	var x [8]byte
	if _, err := io.ReadFull(r, x[:]); err != nil {
		return nil, fmt.Errorf("mphf: read fallback-count at offset %d: %w", off, err)
	}
	fbCount := le.Uint64(x[:])
	if fbCount > nelem {
		return nil, errCorrupt("mphf", off, fmt.Sprintf("fallback-count %d exceeds nelem %d", fbCount, nelem))
	}
	off += 8

	m.fbKeys = make([]uint64, 0, fbCount)
	for i := uint64(0); i < fbCount; i++ {
		var kv [16]byte
		if _, err := io.ReadFull(r, kv[:]); err != nil {
			return nil, fmt.Errorf("mphf: read fallback entry %d at offset %d: %w", i, off, err)
		}
		key := le.Uint64(kv[0:8])
		val := le.Uint64(kv[8:16])
		m.fallback[key] = val
		m.fbKeys = append(m.fbKeys, key)
		off += 16
	}

	return m, nil
}
