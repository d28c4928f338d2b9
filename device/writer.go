package device

import (
	"encoding/binary"
	"fmt"
)

// DescriptorWriter serializes descriptor fragments into a fixed-size
// scratch buffer. The write position never exceeds the buffer capacity;
// descriptor fragments are statically bounded by design, so overflow is a
// programming error and panics rather than returning an error.
type DescriptorWriter struct {
	buf []byte
	pos int
}

// NewDescriptorWriter creates a writer over buf. The writer borrows buf;
// written bytes are visible in buf[:w.Position()].
func NewDescriptorWriter(buf []byte) *DescriptorWriter {
	return &DescriptorWriter{buf: buf}
}

// Position returns the number of bytes written so far.
func (w *DescriptorWriter) Position() int {
	return w.pos
}

// Bytes returns the written prefix of the underlying buffer.
func (w *DescriptorWriter) Bytes() []byte {
	return w.buf[:w.pos]
}

// Reset rewinds the writer to the start of its buffer.
func (w *DescriptorWriter) Reset() {
	w.pos = 0
}

// grow reserves n bytes, panicking on overflow.
func (w *DescriptorWriter) grow(n int) []byte {
	if w.pos+n > len(w.buf) {
		panic(fmt.Sprintf("usbd: descriptor writer overflow (%d+%d > %d)",
			w.pos, n, len(w.buf)))
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b
}

// WriteRaw appends raw bytes without descriptor framing.
func (w *DescriptorWriter) WriteRaw(data []byte) {
	copy(w.grow(len(data)), data)
}

// Write appends a descriptor of the given type: a bLength byte, a
// bDescriptorType byte, then data.
func (w *DescriptorWriter) Write(descType uint8, data []byte) {
	b := w.grow(2 + len(data))
	b[0] = uint8(2 + len(data))
	b[1] = descType
	copy(b[2:], data)
}

// WriteString appends a string descriptor with the UTF-16LE encoding of s.
// Strings longer than 126 code units are truncated to fit the one-byte
// bLength field.
func (w *DescriptorWriter) WriteString(s string) {
	runes := []rune(s)
	if len(runes) > 126 {
		runes = runes[:126]
	}
	b := w.grow(2 + len(runes)*2)
	b[0] = uint8(len(b))
	b[1] = DescriptorTypeString
	for i, r := range runes {
		binary.LittleEndian.PutUint16(b[2+i*2:], uint16(r))
	}
}

// WriteLanguages appends string descriptor index 0, advertising the given
// language IDs.
func (w *DescriptorWriter) WriteLanguages(langIDs ...uint16) {
	b := w.grow(2 + len(langIDs)*2)
	b[0] = uint8(len(b))
	b[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(b[2+i*2:], id)
	}
}
