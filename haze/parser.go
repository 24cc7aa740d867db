package haze

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/ITotalJustice/libhaze/ptp"
)

// DataParser provides a stream view over the incoming bulk data of the
// current container. End of transmission is observed when a bulk read
// returns fewer bytes than requested; PTP uses zero-length termination,
// so zero is a valid size to receive.
type DataParser struct {
	srv *AsyncUsbServer
	buf []byte

	received int
	offset   int
	eot      bool

	// Container length accounting, armed by ReadContainerHeader. Lets
	// Finalize recognize a transmission that ended exactly at the
	// advertised length without a trailing short packet.
	haveLength   bool
	containerLen int64
	consumed     int64
}

// NewDataParser wraps srv with a parser using buf as the bulk read
// buffer. buf must be page aligned and at least one max packet long.
func NewDataParser(srv *AsyncUsbServer, buf []byte) *DataParser {
	return &DataParser{srv: srv, buf: buf}
}

func (p *DataParser) flushInto(dst []byte) (int, error) {
	if p.eot {
		return 0, ErrEndOfTransmission
	}
	n, err := p.srv.ReadPacket(dst)
	if err != nil {
		return n, err
	}
	p.consumed += int64(n)
	p.eot = n < len(dst)
	return n, nil
}

func (p *DataParser) flush() error {
	n, err := p.flushInto(p.buf)
	if err != nil {
		return err
	}
	p.received = n
	p.offset = 0
	return nil
}

// Finalize drains remaining bytes until end of transmission. It is
// called to resync the pipe when a container's payload was not fully
// consumed, and to eat the zero-length terminator of an
// exact-multiple transmission.
func (p *DataParser) Finalize() error {
	for {
		if p.eot {
			return nil
		}
		if p.haveLength && p.containerLen != 0xFFFFFFFF &&
			p.consumed >= p.containerLen && p.containerLen%int64(p.srv.MaxPacketSize()) != 0 {
			// The final packet was short and already consumed by an
			// exact-size read.
			p.eot = true
			return nil
		}
		if err := p.flush(); err != nil {
			if errors.Is(err, ErrEndOfTransmission) {
				return nil
			}
			return err
		}
	}
}

// ReadBuffer reads exactly len(dst) bytes, refilling the bulk buffer
// as needed. Reaching end of transmission early is an error.
func (p *DataParser) ReadBuffer(dst []byte) error {
	read := 0
	for read < len(dst) {
		if p.offset == p.received {
			if err := p.flush(); err != nil {
				return err
			}
		}
		n := copy(dst[read:], p.buf[p.offset:p.received])
		read += n
		p.offset += n
		if n == 0 && p.eot {
			return ErrEndOfTransmission
		}
	}
	return nil
}

// ReadBufferInPlace performs one bulk read directly into the
// caller-owned dst, which must be page aligned. It returns the number
// of bytes read, which may be less than len(dst).
func (p *DataParser) ReadBufferInPlace(dst []byte) (int, error) {
	if !isPageAligned(dst) {
		return 0, ErrBufferNotAligned
	}
	return p.flushInto(dst)
}

// buffered returns how many already-received bytes are pending in the
// bulk buffer.
func (p *DataParser) buffered() int { return p.received - p.offset }

// drainBuffered copies pending bulk-buffer bytes into dst without
// touching the pipe.
func (p *DataParser) drainBuffered(dst []byte) int {
	n := copy(dst, p.buf[p.offset:p.received])
	p.offset += n
	return n
}

// Read implements io.Reader over the current container's stream, for
// the ptp dataset codec. End of transmission reads as io.EOF.
func (p *DataParser) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for p.offset == p.received {
		if p.eot {
			return 0, io.EOF
		}
		if err := p.flush(); err != nil {
			if errors.Is(err, ErrEndOfTransmission) {
				return 0, io.EOF
			}
			return 0, err
		}
	}
	n := copy(b, p.buf[p.offset:p.received])
	p.offset += n
	return n, nil
}

func (p *DataParser) ReadUint8() (uint8, error) {
	var b [1]byte
	if err := p.ReadBuffer(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *DataParser) ReadUint16() (uint16, error) {
	var b [2]byte
	if err := p.ReadBuffer(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (p *DataParser) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := p.ReadBuffer(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (p *DataParser) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := p.ReadBuffer(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadString decodes a PTP string: a u8 count of UTF-16LE code units
// including the trailing null. The result is UTF-8.
func (p *DataParser) ReadString() (string, error) {
	n, err := p.ReadUint8()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	out := make([]byte, 0, 4*int(n))
	var scratch [4]byte
	for i := 0; i < int(n); i++ {
		cu, err := p.ReadUint16()
		if err != nil {
			return "", err
		}
		if cu == 0 {
			continue
		}
		w := utf8.EncodeRune(scratch[:], rune(cu))
		out = append(out, scratch[:w]...)
	}
	return string(out), nil
}

// ReadContainerHeader decodes the 12-byte bulk container header and
// arms length accounting for Finalize.
func (p *DataParser) ReadContainerHeader() (ptp.BulkHeader, error) {
	var hdr ptp.BulkHeader
	var err error
	if hdr.Length, err = p.ReadUint32(); err != nil {
		return hdr, err
	}
	if hdr.Type, err = p.ReadUint16(); err != nil {
		return hdr, err
	}
	if hdr.Code, err = p.ReadUint16(); err != nil {
		return hdr, err
	}
	if hdr.TransactionID, err = p.ReadUint32(); err != nil {
		return hdr, err
	}
	p.haveLength = true
	p.containerLen = int64(hdr.Length)
	return hdr, nil
}
