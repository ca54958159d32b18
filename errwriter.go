// errwriter.go -- io.writer that handles errors gracefully
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
	"fmt"
	"io"
)

// errWriter wraps an io.Writer and latches the first error seen across a
// sequence of Write calls, so a multi-field marshal can issue one Write
// per field without checking an error after each one. stage names the
// marshal this writer serves (e.g. "bitvector", "mphf"), so a
// short write anywhere in that sequence can be traced to a byte offset
// within it.
type errWriter struct {
	w     io.Writer
	stage string
	off   int64
	err   error
}

func newErrWriter(w io.Writer, stage string) *errWriter {
	return &errWriter{
		w:     w,
		stage: stage,
	}
}

func (e *errWriter) Write(b []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}

	n, err := e.w.Write(b)
	if err != nil {
		e.err = fmt.Errorf("%s: write at offset %d: %w", e.stage, e.off, err)
		return n, e.err
	}
	e.off += int64(n)
	if n != len(b) {
		e.err = shortWrite(e.stage, e.off, n, len(b))
		return n, e.err
	}

	return n, nil
}

// Offset returns the number of bytes successfully written so far.
func (e *errWriter) Offset() int64 {
	return e.off
}

func (e *errWriter) Error() error {
	return e.err
}

func shortWrite(stage string, off int64, saw, exp int) error {
	return fmt.Errorf("%s: short write at offset %d: exp %d, wrote %d", stage, off, exp, saw)
}
