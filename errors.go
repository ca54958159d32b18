// errors.go - public errors exposed by mph
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
	"errors"
	"fmt"
)

func errShortWrite(who string, n, exp int) error {
	return fmt.Errorf("%s: incomplete write; exp %d, saw %d", who, exp, n)
}

func errCorrupt(who string, off int64, why string) error {
	return fmt.Errorf("%s: %w: corrupt stream at offset %d: %s", who, ErrCorrupt, off, why)
}

var (
	// ErrMPHFail reports a failed MPHF construction. Build and
	// Builder.Freeze do not return it: keys that no cascade level
	// resolves are placed in the fallback table instead.
	ErrMPHFail = errors.New("failed to build MPH")

	// ErrFrozen is returned when attempting to add new records to an already frozen store
	// It is also returned when trying to freeze a store that's already frozen.
	ErrFrozen = errors.New("store already frozen")

	// ErrValueTooLarge is returned if the value-length is larger than 2^32-1 bytes
	ErrValueTooLarge = errors.New("value is larger than 2^32-1 bytes")

	// ErrExists is returned if a duplicate key is added to the store
	ErrExists = errors.New("key exists in store")

	// ErrNoKey is returned when a key cannot be found in the store
	ErrNoKey = errors.New("no such key")

	// ErrTooSmall is returned when a stream is too short to hold a valid header
	ErrTooSmall = errors.New("not enough data to unmarshal")

	// ErrCorrupt is returned when a stream's contents fail a structural
	// sanity check (bad level count, size mismatch, truncated payload).
	ErrCorrupt = errors.New("corrupt mphf stream")

	// ErrBadMagic is returned when a store file doesn't begin with the
	// expected magic bytes.
	ErrBadMagic = errors.New("bad file magic")

	// ErrChecksum is returned when a store's strong checksum doesn't
	// match its contents.
	ErrChecksum = errors.New("checksum failure")
)
