package haze

import (
	"encoding/binary"
	"io"

	"github.com/ITotalJustice/libhaze/ptp"
)

// Payload encoding helpers shared by the streaming builder and the
// buffered data-phase path.

func putUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func putUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func putUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func putUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// putUint128 writes a 128-bit little-endian value from its low 64
// bits; the high half is zero.
func putUint128(w io.Writer, lo uint64) error {
	if err := putUint64(w, lo); err != nil {
		return err
	}
	return putUint64(w, 0)
}

func putString(w io.Writer, s string) error {
	out := make([]byte, 2*len(s)+3)
	enc, err := ptp.EncodeStr(out, s)
	if err != nil {
		return err
	}
	_, err = w.Write(enc)
	return err
}

func putArrayUint16(w io.Writer, vals []uint16) error {
	if err := putUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := putUint16(w, v); err != nil {
			return err
		}
	}
	return nil
}

func putArrayUint32(w io.Writer, vals []uint32) error {
	if err := putUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := putUint32(w, v); err != nil {
			return err
		}
	}
	return nil
}

// DataBuilder is the dual of DataParser: it accumulates one bulk max
// packet at a time and flushes full packets as it goes. Commit sends
// whatever is left; if the transmission length works out to an exact
// multiple of the max packet size, a zero-length terminator follows.
type DataBuilder struct {
	srv *AsyncUsbServer
	buf []byte
}

func NewDataBuilder(srv *AsyncUsbServer) *DataBuilder {
	return &DataBuilder{
		srv: srv,
		buf: make([]byte, 0, srv.MaxPacketSize()),
	}
}

func (b *DataBuilder) flushPacket() error {
	if err := b.srv.WritePacket(b.buf); err != nil {
		return err
	}
	b.buf = b.buf[:0]
	return nil
}

// WriteBuffer appends p to the transmission, flushing full packets.
func (b *DataBuilder) WriteBuffer(p []byte) error {
	for len(p) > 0 {
		space := cap(b.buf) - len(b.buf)
		n := space
		if n > len(p) {
			n = len(p)
		}
		b.buf = append(b.buf, p[:n]...)
		p = p[n:]
		if len(b.buf) == cap(b.buf) {
			if err := b.flushPacket(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write implements io.Writer for the ptp dataset codec.
func (b *DataBuilder) Write(p []byte) (int, error) {
	if err := b.WriteBuffer(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *DataBuilder) WriteUint8(v uint8) error   { return putUint8(b, v) }
func (b *DataBuilder) WriteUint16(v uint16) error { return putUint16(b, v) }
func (b *DataBuilder) WriteUint32(v uint32) error { return putUint32(b, v) }
func (b *DataBuilder) WriteUint64(v uint64) error { return putUint64(b, v) }

// WriteString encodes a PTP string.
func (b *DataBuilder) WriteString(s string) error { return putString(b, s) }

// WriteArrayUint32 writes a u32 element count followed by the
// elements.
func (b *DataBuilder) WriteArrayUint32(vals []uint32) error { return putArrayUint32(b, vals) }

// WriteContainerHeader starts a container of the given type. The
// payload length is the container length minus the 12-byte header;
// lengths beyond the u32 range are clamped the way hosts expect.
func (b *DataBuilder) WriteContainerHeader(typ, code uint16, tid uint32, payloadLen int64) error {
	total := payloadLen + ptp.HdrLen
	length := uint32(0xFFFFFFFF)
	if total <= 0xFFFFFFFF {
		length = uint32(total)
	}
	if err := b.WriteUint32(length); err != nil {
		return err
	}
	if err := b.WriteUint16(typ); err != nil {
		return err
	}
	if err := b.WriteUint16(code); err != nil {
		return err
	}
	return b.WriteUint32(tid)
}

// Commit flushes the remainder of the transmission. The final packet
// decides end of transmission: a short packet if there is a remainder,
// a zero-length terminator when the total is an exact multiple of the
// max packet size.
func (b *DataBuilder) Commit() error {
	if len(b.buf) > 0 {
		return b.flushPacket()
	}
	// Everything flushed as full packets: terminate with a ZLP.
	return b.srv.WritePacket(nil)
}
