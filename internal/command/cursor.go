package command

import (
	"fmt"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// cursor reads fields sequentially from a frame. The first out-of-range read
// records err and every later read returns zero values.
type cursor struct {
	b    []byte
	off  int
	end  int
	fail error
	err  error
}

func newCursor(b []byte, off, end int, fail error) *cursor {
	if end > len(b) {
		end = len(b)
	}
	return &cursor{b: b, off: off, end: end, fail: fail}
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.off+n > c.end {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, frame ends at %d", c.fail, n, c.off, c.end)
		return false
	}
	return true
}

func (c *cursor) skip(n int) {
	if c.need(n) {
		c.off += n
	}
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := uint16(c.b[c.off])<<8 | uint16(c.b[c.off+1])
	c.off += 2
	return v
}

func (c *cursor) u24() uint32 {
	if !c.need(3) {
		return 0
	}
	v, _ := frame.Uint24At(c.b, c.off)
	c.off += 3
	return v
}

func (c *cursor) fixed16() frame.Fixed88 { return frame.Fixed88(c.u16()) }

func (c *cursor) fixed24() float64 {
	if !c.need(3) {
		return 0
	}
	v, _ := frame.Fixed24At(c.b, c.off)
	c.off += 3
	return v
}

func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := append([]byte(nil), c.b[c.off:c.off+n]...)
	c.off += n
	return v
}

func (c *cursor) dateTime() frame.DateTime {
	if !c.need(frame.DateTimeSize) {
		return frame.DateTime{}
	}
	d, _ := frame.UnpackDateTime(c.b[c.off:])
	c.off += frame.DateTimeSize
	return d
}

// text decodes a packed or contiguous string field.
func (c *cursor) text(width, packedWidth int) string {
	if !c.need(1) {
		return ""
	}
	s, n, ok := frame.DecodeText(c.b[c.off:c.end], width, packedWidth)
	if !ok {
		c.err = fmt.Errorf("%w: text field at offset %d", c.fail, c.off)
		return ""
	}
	c.off += n
	return s
}
