// serializer_test.go -- test suite for MPHF marshal/unmarshal
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
	"testing"
)

// Scenario B: K = [0..999], gamma = 2.0. Save, reload, verify pointwise
// agreement on all 1000 keys.
func TestScenarioBRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	keys := make([]uint64, 1000)
	for i := range keys {
		keys[i] = uint64(i)
	}

	m, err := Build(keys, 2.0)
	assert(err == nil, "build failed: %s", err)

	var buf bytes.Buffer
	assert(m.Save(&buf) == nil, "save failed")

	m2, err := Load(&buf)
	assert(err == nil, "load failed: %s", err)

	for _, k := range keys {
		a := m.Lookup(k)
		b := m2.Lookup(k)
		assert(a == b, "key %d: original %d, reloaded %d", k, a, b)
	}
}

// Scenario D: K = [1000..1999], gamma 2.0. Header check.
func TestScenarioDHeader(t *testing.T) {
	assert := newAsserter(t)

	keys := make([]uint64, 1000)
	for i := range keys {
		keys[i] = uint64(1000 + i)
	}

	m, err := Build(keys, 2.0)
	assert(err == nil, "build failed: %s", err)

	var buf bytes.Buffer
	assert(m.Save(&buf) == nil, "save failed")

	m2, err := Load(&buf)
	assert(err == nil, "load failed: %s", err)

	assert(m2.nelem == 1000, "exp nelem 1000, saw %d", m2.nelem)
	assert(m2.nbLevels == NbLevels, "exp nb_levels %d, saw %d", NbLevels, m2.nbLevels)
	assert(m2.gamma == 2.0, "exp gamma 2.0 exactly, saw %v", m2.gamma)
}

// Bit-exact save: saving the same MPHF twice yields byte-identical output.
func TestBitExactSave(t *testing.T) {
	assert := newAsserter(t)

	keys := randomKeys(300, 7)
	m, err := Build(keys, 2.0)
	assert(err == nil, "build failed: %s", err)

	var a, b bytes.Buffer
	assert(m.Save(&a) == nil, "first save failed")
	assert(m.Save(&b) == nil, "second save failed")

	assert(bytes.Equal(a.Bytes(), b.Bytes()), "save output not byte-identical across two calls")
}

// Fallback entries must survive a round trip, including their index
// assignment (which starts at lastbitsetrank).
func TestFallbackRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	keys := randomKeys(80, 123)
	m, err := Build(keys, 1.0)
	assert(err == nil, "build failed: %s", err)
	assert(len(m.fallback) > 0, "test setup: expected some fallback entries with gamma=1.0")

	var buf bytes.Buffer
	assert(m.Save(&buf) == nil, "save failed")

	m2, err := Load(&buf)
	assert(err == nil, "load failed: %s", err)

	assert(len(m2.fallback) == len(m.fallback), "fallback size mismatch: exp %d, saw %d",
		len(m.fallback), len(m2.fallback))

	for k, v := range m.fallback {
		v2, ok := m2.fallback[k]
		assert(ok, "fallback key %#x missing after reload", k)
		assert(v2 == v, "fallback key %#x: exp index %d, saw %d", k, v, v2)
	}

	assertBijection(t, assert, m2, keys)
}

func TestLoadRejectsTruncatedStream(t *testing.T) {
	assert := newAsserter(t)

	keys := randomKeys(40, 17)
	m, err := Build(keys, 2.0)
	assert(err == nil, "build failed: %s", err)

	var buf bytes.Buffer
	assert(m.Save(&buf) == nil, "save failed")

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()/2])
	_, err = Load(truncated)
	assert(err != nil, "expected error loading truncated stream")
}

func TestLoadRejectsImplausibleLevelCount(t *testing.T) {
	assert := newAsserter(t)

	var hdr [headerSize]byte
	// gamma bytes zero, nb_levels garbage, rest zero.
	hdr[8] = 0xff
	hdr[9] = 0xff
	hdr[10] = 0xff
	hdr[11] = 0xff

	_, err := Load(bytes.NewReader(hdr[:]))
	assert(err != nil, "expected error loading header with implausible nb_levels")
}
