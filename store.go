// store.go -- persistent, immutable key/value store built on top of MPHF
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

package mph

import (
	"bytes"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/dchest/siphash"
	"github.com/hashicorp/golang-lru/arc/v2"
	"github.com/opencoff/go-mmap"
)

// The on-disk Store has the following general structure:
//
//   - 64 byte file header: big-endian encoding of all multibyte ints
//       * magic    [4]byte
//       * flags    uint32 (indicates if store is keys-only or keys+vals)
//       * salt     [16]byte random salt for siphash record integrity
//       * nkeys    uint64  Number of keys in the store
//       * offtbl   uint64  File offset of MPHF table (page-aligned)
//
//   - Contiguous series of records; each record is a key/value pair:
//       * cksum    uint64  Siphash checksum of value, offset (big endian)
//       * val      []byte  value bytes
//
//   - Possibly a gap until the next page-size boundary
//   - The offset table: one 20-byte entry per MPHF index holding key
//     uint64, offset uint64, valuelen uint32 (or just the 8-byte key,
//     if the store holds no values). It is memory mapped and every
//     entry is little-endian encoded.
//   - Zero padding up to the next 8-byte boundary
//   - The MPHF, in the format from serializer.go
//   - 32 bytes of strong checksum (SHA512-256) over the header and
//     everything from the offset table to the end of the MPHF; value
//     records are covered only by their siphash checksums.
const (
	_Store_KeysOnly = 1 << iota

	_StoreMagic = "MPHS"
)

type storeState int

const (
	storeAborted storeState = -1
	storeOpen    storeState = 0
	storeFrozen  storeState = 1
)

type storeValue struct {
	off  uint64
	vlen uint32
}

// StoreWriter builds an immutable on-disk key/value database, indexed
// by a cascaded-bitset MPHF. Keys and values are added one at a time;
// Freeze() builds the MPHF, writes the store file, and closes it.
type StoreWriter struct {
	fd      *os.File
	builder *Builder

	keymap map[uint64]*storeValue

	salt []byte

	off     uint64
	valSize uint64

	fntmp string
	fn    string
	state storeState
}

// NewStoreWriter prepares file 'fn' to hold a store built using the
// cascaded-bitset MPHF with load factor 'gamma'.
func NewStoreWriter(fn string, gamma float64) (*StoreWriter, error) {
	tmp := fmt.Sprintf("%s.tmp.%d", fn, rand32())
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	w := &StoreWriter{
		fd:      fd,
		builder: NewBuilder(gamma),
		keymap:  make(map[uint64]*storeValue),
		salt:    randbytes(16),
		off:     64,
		fn:      fn,
		fntmp:   tmp,
	}

	var z [64]byte
	if _, err := writeAll(fd, z[:]); err != nil {
		return nil, err
	}

	return w, nil
}

// Len returns the number of distinct keys added so far.
func (w *StoreWriter) Len() int {
	return len(w.keymap)
}

// Add adds a single key/value pair to the store. Duplicate keys are
// rejected with ErrExists.
func (w *StoreWriter) Add(key uint64, val []byte) error {
	if w.state != storeOpen {
		return ErrFrozen
	}
	_, err := w.addRecord(key, val)
	return err
}

// Abort discards the in-progress store and removes its temp file.
func (w *StoreWriter) Abort() error {
	if w.state != storeOpen {
		return ErrFrozen
	}
	return w.abort()
}

func (w *StoreWriter) abort() error {
	if err := os.Remove(w.fd.Name()); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}
	w.state = storeAborted
	return nil
}

// Freeze builds the MPHF over every added key, writes the complete
// store file, and closes it.
func (w *StoreWriter) Freeze() (err error) {
	defer func(e *error) {
		if *e != nil {
			w.abort()
		}
	}(&err)

	if w.state != storeOpen {
		return ErrFrozen
	}

	m, err := w.builder.Freeze()
	if err != nil {
		return err
	}

	h := sha512.New512_256()
	tee := io.MultiWriter(w.fd, h)

	pgsz := uint64(os.Getpagesize())
	offtbl := (w.off + pgsz - 1) &^ (pgsz - 1)
	if offtbl > w.off {
		zeroes := make([]byte, offtbl-w.off)
		if _, err = writeAll(w.fd, zeroes); err != nil {
			return err
		}
		w.off = offtbl
	}

	var ehdr [64]byte
	be := binary.BigEndian
	copy(ehdr[:4], _StoreMagic)

	i := 4
	if w.valSize == 0 {
		be.PutUint32(ehdr[i:i+4], uint32(_Store_KeysOnly))
	}
	i += 4
	i += copy(ehdr[i:], w.salt)
	be.PutUint64(ehdr[i:i+8], m.Len())
	i += 8
	be.PutUint64(ehdr[i:i+8], offtbl)

	h.Write(ehdr[:])

	if err = w.marshalOffsets(tee, m); err != nil {
		return err
	}

	// align to the next 8-byte boundary before the MPHF stream begins
	aligned := (w.off + 7) &^ 7
	if aligned > w.off {
		zeroes := make([]byte, aligned-w.off)
		if _, err = writeAll(tee, zeroes); err != nil {
			return err
		}
		w.off = aligned
	}

	if err = m.Save(tee); err != nil {
		return err
	}

	cksum := h.Sum(nil)
	if _, err = writeAll(w.fd, cksum); err != nil {
		return err
	}

	if _, err = w.fd.Seek(0, 0); err != nil {
		return err
	}
	if _, err = writeAll(w.fd, ehdr[:]); err != nil {
		return err
	}

	if err = w.fd.Sync(); err != nil {
		return err
	}
	if err = w.fd.Close(); err != nil {
		return err
	}
	if err = os.Rename(w.fntmp, w.fn); err != nil {
		return err
	}
	w.state = storeFrozen
	return nil
}

func (w *StoreWriter) marshalOffsets(tee io.Writer, m *MPHF) error {
	if w.valSize == 0 {
		return w.marshalKeys(tee, m)
	}

	n := m.Len()
	le := binary.LittleEndian
	buf := make([]byte, n*(8+8+4))

	for k, r := range w.keymap {
		i := m.Lookup(k)
		if i >= n {
			return fmt.Errorf("store: panic: can't find key %x", k)
		}
		base := i * 20
		le.PutUint64(buf[base:base+8], k)
		le.PutUint64(buf[base+8:base+16], r.off)
		le.PutUint32(buf[base+16:base+20], r.vlen)
	}

	if _, err := writeAll(tee, buf); err != nil {
		return err
	}
	w.off += n * 20
	return nil
}

func (w *StoreWriter) marshalKeys(tee io.Writer, m *MPHF) error {
	n := m.Len()
	le := binary.LittleEndian
	buf := make([]byte, n*8)

	for k := range w.keymap {
		i := m.Lookup(k)
		if i >= n {
			return fmt.Errorf("store: panic: can't find key %x", k)
		}
		le.PutUint64(buf[i*8:i*8+8], k)
	}

	if _, err := writeAll(tee, buf); err != nil {
		return err
	}
	w.off += n * 8
	return nil
}

func (w *StoreWriter) addRecord(key uint64, val []byte) (bool, error) {
	if uint64(len(val)) > uint64(1<<32)-1 {
		return false, ErrValueTooLarge
	}
	if _, ok := w.keymap[key]; ok {
		return false, ErrExists
	}

	w.builder.Add(key)

	v := &storeValue{off: w.off, vlen: uint32(len(val))}
	w.keymap[key] = v

	if len(val) > 0 {
		if err := w.writeRecord(val, v.off); err != nil {
			return false, err
		}
		w.valSize += uint64(len(val))
	}
	return true, nil
}

func (w *StoreWriter) writeRecord(val []byte, off uint64) error {
	var o [8]byte
	var c [8]byte
	be := binary.BigEndian
	be.PutUint64(o[:], off)

	h := siphash.New(w.salt)
	h.Write(o[:])
	h.Write(val)
	be.PutUint64(c[:], h.Sum64())

	if _, err := writeAll(w.fd, c[:]); err != nil {
		return err
	}
	if _, err := writeAll(w.fd, val); err != nil {
		return err
	}
	w.off += uint64(len(val)) + 8
	return nil
}

func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return n, errShortWrite("store", n, len(buf))
	}
	return n, nil
}

// StoreReader is the read-only query interface for a store previously
// built with StoreWriter. Records are read with Find, Lookup or IterFunc.
type StoreReader struct {
	mph *MPHF

	cache *arc.ARCCache[uint64, []byte]

	flags uint32

	offset []byte // memory-mapped offset table, still in its on-disk layout
	nkeys  uint64
	salt   []byte
	offtbl uint64

	mm *mmap.Mapping
	fd *os.File
	fn string
}

// OpenStore opens a previously frozen store for querying. Value
// records are opportunistically cached after being read from disk; up
// to 'cache' records are retained in memory (default 128).
func OpenStore(fn string, cache int) (rd *StoreReader, err error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	if cache <= 0 {
		cache = 128
	}

	rd = &StoreReader{
		salt: make([]byte, 16),
		fd:   fd,
		fn:   fn,
	}

	st, err := fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: can't stat: %w", fn, err)
	}
	if st.Size() < 64+32 {
		return nil, fmt.Errorf("%s: %w: file too small", fn, ErrCorrupt)
	}

	var hdrb [64]byte
	if _, err = io.ReadFull(fd, hdrb[:]); err != nil {
		return nil, fmt.Errorf("%s: can't read header: %w", fn, err)
	}

	offtbl, err := rd.decodeHeader(hdrb[:], st.Size())
	if err != nil {
		return nil, err
	}

	if err = rd.verifyChecksum(hdrb[:], offtbl, st.Size()); err != nil {
		return nil, err
	}

	tblsz := rd.nkeys * 20
	if rd.flags&_Store_KeysOnly > 0 {
		tblsz = rd.nkeys * 8
	}
	if uint64(st.Size()) < 64+32+tblsz {
		return nil, fmt.Errorf("%s: %w: offset table truncated", fn, ErrCorrupt)
	}

	rd.cache, err = arc.NewARC[uint64, []byte](cache)
	if err != nil {
		return nil, err
	}

	mmapsz := st.Size() - int64(offtbl) - 32
	mm := mmap.New(fd)
	mapping, err := mm.Map(mmapsz, int64(offtbl), mmap.PROT_READ, mmap.F_READAHEAD)
	if err != nil {
		return nil, fmt.Errorf("%s: can't mmap %d bytes at off %d: %w", fn, mmapsz, offtbl, err)
	}

	bs := mapping.Bytes()
	rd.mm = mapping
	rd.offset = bs[:tblsz]

	// the MPHF starts at the next 8-byte boundary after the table
	m, err := Load(bytes.NewReader(bs[(tblsz+7)&^7:]))
	if err != nil {
		return nil, fmt.Errorf("%s: can't unmarshal mphf: %w", fn, err)
	}
	rd.mph = m
	return rd, nil
}

// Len returns the number of keys in the store.
func (rd *StoreReader) Len() int {
	return int(rd.nkeys)
}

// Close unmaps the store and releases its resources.
func (rd *StoreReader) Close() {
	rd.mm.Unmap()
	rd.fd.Close()
	rd.cache.Purge()
	rd.salt = nil
	rd.mph = nil
	rd.fd = nil
	rd.fn = ""
}

// Lookup returns the value associated with 'key', or false if it
// isn't present.
func (rd *StoreReader) Lookup(key uint64) ([]byte, bool) {
	v, err := rd.Find(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Find is like Lookup but returns the disk I/O or integrity error
// verbatim instead of collapsing it to a boolean.
func (rd *StoreReader) Find(key uint64) ([]byte, error) {
	if v, ok := rd.cache.Get(key); ok {
		return v, nil
	}

	idx := rd.mph.Lookup(key)
	if idx >= rd.nkeys {
		return nil, ErrNoKey
	}

	le := binary.LittleEndian
	if rd.flags&_Store_KeysOnly > 0 {
		base := idx * 8
		if le.Uint64(rd.offset[base:base+8]) != key {
			return nil, ErrNoKey
		}
		rd.cache.Add(key, nil)
		return nil, nil
	}

	base := idx * 20
	if le.Uint64(rd.offset[base:base+8]) != key {
		return nil, ErrNoKey
	}
	off := le.Uint64(rd.offset[base+8 : base+16])
	vlen := le.Uint32(rd.offset[base+16 : base+20])

	val, err := rd.decodeRecord(off, vlen)
	if err != nil {
		return nil, err
	}
	rd.cache.Add(key, val)
	return val, nil
}

// IterFunc calls 'fp' for every record in the store, stopping early if
// fp returns a non-nil error.
func (rd *StoreReader) IterFunc(fp func(k uint64, v []byte) error) error {
	le := binary.LittleEndian
	if rd.flags&_Store_KeysOnly > 0 {
		for i := uint64(0); i < rd.nkeys; i++ {
			base := i * 8
			k := le.Uint64(rd.offset[base : base+8])
			if err := fp(k, nil); err != nil {
				return err
			}
		}
		return nil
	}

	for i := uint64(0); i < rd.nkeys; i++ {
		base := i * 20
		k := le.Uint64(rd.offset[base : base+8])
		off := le.Uint64(rd.offset[base+8 : base+16])
		vlen := le.Uint32(rd.offset[base+16 : base+20])
		val, err := rd.decodeRecord(off, vlen)
		if err != nil {
			return fmt.Errorf("iter: key %x: %w", k, err)
		}
		if err := fp(k, val); err != nil {
			return err
		}
	}
	return nil
}

func (rd *StoreReader) decodeRecord(off uint64, vlen uint32) ([]byte, error) {
	if _, err := rd.fd.Seek(int64(off), 0); err != nil {
		return nil, err
	}

	data := make([]byte, vlen+8)
	if _, err := io.ReadFull(rd.fd, data); err != nil {
		return nil, err
	}

	be := binary.BigEndian
	csum := be.Uint64(data[:8])

	var o [8]byte
	be.PutUint64(o[:], off)

	h := siphash.New(rd.salt)
	h.Write(o[:])
	h.Write(data[8:])
	exp := h.Sum64()

	if csum != exp {
		return nil, fmt.Errorf("%s: %w: record at off %d (exp %#x, saw %#x)", rd.fn, ErrChecksum, off, exp, csum)
	}
	return data[8:], nil
}

func (rd *StoreReader) verifyChecksum(hdrb []byte, offtbl uint64, sz int64) error {
	h := sha512.New512_256()
	h.Write(hdrb)

	remsz := sz - int64(offtbl) - 32
	if _, err := rd.fd.Seek(int64(offtbl), 0); err != nil {
		return err
	}

	nw, err := io.CopyN(h, rd.fd, remsz)
	if err != nil {
		return fmt.Errorf("%s: metadata i/o error: %w", rd.fn, err)
	}
	if nw != remsz {
		return fmt.Errorf("%s: partial read verifying checksum, exp %d, saw %d", rd.fn, remsz, nw)
	}

	var expsum [32]byte
	if _, err := rd.fd.Seek(sz-32, 0); err != nil {
		return err
	}
	if _, err := io.ReadFull(rd.fd, expsum[:]); err != nil {
		return fmt.Errorf("%s: checksum i/o error: %w", rd.fn, err)
	}

	csum := h.Sum(nil)
	if subtle.ConstantTimeCompare(csum, expsum[:]) != 1 {
		return fmt.Errorf("%s: %w", rd.fn, ErrChecksum)
	}

	_, err = rd.fd.Seek(int64(offtbl), 0)
	return err
}

func (rd *StoreReader) decodeHeader(b []byte, sz int64) (uint64, error) {
	magic := string(b[:4])
	if magic != _StoreMagic {
		return 0, fmt.Errorf("%s: %w: <%s>", rd.fn, ErrBadMagic, magic)
	}

	be := binary.BigEndian
	i := 4
	rd.flags = be.Uint32(b[i : i+4])
	i += 4
	rd.salt = append([]byte(nil), b[i:i+16]...)
	i += 16
	rd.nkeys = be.Uint64(b[i : i+8])
	i += 8
	rd.offtbl = be.Uint64(b[i : i+8])

	if rd.offtbl < 64 || rd.offtbl >= uint64(sz-32) {
		return 0, fmt.Errorf("%s: %w: bad offset-table pointer", rd.fn, ErrCorrupt)
	}
	return rd.offtbl, nil
}
