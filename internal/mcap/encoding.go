package mcap

import (
	"encoding/binary"
	"fmt"
)

// byteWriter accumulates a single record's content before it is
// wrapped with an opcode and length and flushed to the stream.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *byteWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *byteWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// rawBytes appends data with no length prefix; used for the trailing
// payload field of Message records, whose length is implied by the
// enclosing record length.
func (w *byteWriter) rawBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) stringMap(m map[string]string) {
	inner := &byteWriter{}
	for k, v := range m {
		inner.str(k)
		inner.str(v)
	}
	w.bytes(inner.buf)
}

// byteReader decodes the content of a single record.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("mcap: truncated record reading u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("mcap: truncated record reading u16")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("mcap: truncated record reading u32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("mcap: truncated record reading u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("mcap: truncated record reading string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("mcap: truncated record reading bytes")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// rawBytes consumes every remaining byte in the record.
func (r *byteReader) rawBytes() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

func (r *byteReader) stringMap() (map[string]string, error) {
	raw, err := r.bytes()
	if err != nil {
		return nil, err
	}
	inner := &byteReader{buf: raw}
	m := make(map[string]string)
	for inner.remaining() > 0 {
		k, err := inner.str()
		if err != nil {
			return nil, err
		}
		v, err := inner.str()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
