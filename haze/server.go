package haze

import (
	"errors"
	"fmt"

	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/usb"
)

// AsyncUsbServer is the bulk transport the responder talks through.
// It adds cancellation on top of the raw endpoint pair: once the
// cancel channel fires, every packet operation reports
// ErrTransportCancelled.
type AsyncUsbServer struct {
	ep     usb.EndpointPair
	cancel <-chan struct{}
	log    *log.ChildLogger
}

func NewAsyncUsbServer(ep usb.EndpointPair, cancel <-chan struct{}, lg *log.ChildLogger) *AsyncUsbServer {
	return &AsyncUsbServer{ep: ep, cancel: cancel, log: lg}
}

func (s *AsyncUsbServer) MaxPacketSize() int { return s.ep.MaxPacketSize() }

// ReadReady is the wait object the reactor blocks on: ready when a new
// transfer may start.
func (s *AsyncUsbServer) ReadReady() Waiter { return Waiter(s.ep.ReadReady()) }

func (s *AsyncUsbServer) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// ReadPacket reads exactly one bulk transfer. A returned size of zero
// is a valid zero-length packet. A size smaller than len(buf) means
// the transmission ended with this transfer.
func (s *AsyncUsbServer) ReadPacket(buf []byte) (int, error) {
	if s.cancelled() {
		return 0, ErrTransportCancelled
	}
	n, err := s.ep.ReadPacket(buf)
	if err != nil {
		if s.cancelled() || errors.Is(err, usb.ErrClosed) {
			return n, ErrTransportCancelled
		}
		return n, fmt.Errorf("bulk read: %w", err)
	}
	return n, nil
}

// WritePacket writes exactly one bulk transfer. A zero-length buf
// produces a real zero-length packet.
func (s *AsyncUsbServer) WritePacket(buf []byte) error {
	if s.cancelled() {
		return ErrTransportCancelled
	}
	if err := s.ep.WritePacket(buf); err != nil {
		if s.cancelled() || errors.Is(err, usb.ErrClosed) {
			return ErrTransportCancelled
		}
		return fmt.Errorf("bulk write: %w", err)
	}
	return nil
}
