package gsf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Cursor is a positioned big-endian reader over a random-access byte source.
// Several cursors may share one source; each keeps its own position.
type Cursor struct {
	src  io.ReaderAt
	size int64
	pos  int64
	scr  [8]byte
}

// NewCursor returns a cursor at offset zero of the first size bytes of src.
func NewCursor(src io.ReaderAt, size int64) *Cursor {
	return &Cursor{src: src, size: size}
}

// Position reports the absolute offset of the next read.
func (c *Cursor) Position() int64 { return c.pos }

// Size reports the length of the underlying source.
func (c *Cursor) Size() int64 { return c.size }

// Remaining reports how many bytes lie between the position and the end.
func (c *Cursor) Remaining() int64 {
	if c.pos >= c.size {
		return 0
	}
	return c.size - c.pos
}

// Seek implements io.Seeker. Seeking past the end is allowed; the next read
// fails.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = c.size + offset
	default:
		return c.pos, fmt.Errorf("cursor seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return c.pos, fmt.Errorf("cursor seek: negative position %d", abs)
	}
	c.pos = abs
	return abs, nil
}

// Skip advances the position by n bytes without reading them. The bytes must
// exist.
func (c *Cursor) Skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("cursor skip: negative length %d", n)
	}
	if n > c.Remaining() {
		return io.ErrUnexpectedEOF
	}
	c.pos += n
	return nil
}

// ReadExact returns exactly n bytes or io.ErrUnexpectedEOF.
func (c *Cursor) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.readInto(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Cursor) readInto(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if int64(len(buf)) > c.Remaining() {
		return io.ErrUnexpectedEOF
	}
	n, err := c.src.ReadAt(buf, c.pos)
	if n < len(buf) {
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return io.ErrUnexpectedEOF
	}
	c.pos += int64(n)
	return nil
}

func (c *Cursor) fixed(n int) ([]byte, error) {
	b := c.scr[:n]
	if err := c.readInto(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Cursor) U8() (uint8, error) {
	b, err := c.fixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) I8() (int8, error) {
	v, err := c.U8()
	return int8(v), err
}

func (c *Cursor) U16() (uint16, error) {
	b, err := c.fixed(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) I16() (int16, error) {
	v, err := c.U16()
	return int16(v), err
}

func (c *Cursor) U32() (uint32, error) {
	b, err := c.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// ReadNativeString reads an n byte string and drops trailing NUL padding.
// The GSF version string is the one field written in host order; for a byte
// string that only matters to writers.
func (c *Cursor) ReadNativeString(n int) (string, error) {
	b, err := c.ReadExact(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}
