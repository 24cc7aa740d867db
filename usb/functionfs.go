//go:build linux

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FunctionFS exposes a gadget-side bulk endpoint pair through the
// Linux FunctionFS files of a configured MTP function. ep0 carries
// setup traffic and is owned by whoever configured the gadget; we only
// touch the bulk IN/OUT endpoint files.
//
// Endpoint file reads block in the kernel, so a pump goroutine moves
// arriving transfers into a packetQueue; that gives ReadReady the same
// level-triggered semantics as the loopback pair.
type FunctionFS struct {
	in  *os.File // device-to-host
	out *os.File // host-to-device

	rx        *packetQueue
	maxPacket int

	closeOnce sync.Once
	closeErr  error
}

// OpenFunctionFS opens the bulk endpoint files under dir (the mounted
// FunctionFS instance, e.g. /dev/ffs-mtp) and starts the receive pump.
func OpenFunctionFS(dir string, maxPacket int) (EndpointPair, error) {
	if maxPacket <= 0 {
		maxPacket = 512
	}

	in, err := os.OpenFile(filepath.Join(dir, "ep1"), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("functionfs: open IN endpoint: %w", err)
	}
	out, err := os.OpenFile(filepath.Join(dir, "ep2"), os.O_RDONLY, 0)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("functionfs: open OUT endpoint: %w", err)
	}

	f := &FunctionFS{
		in:        in,
		out:       out,
		rx:        newPacketQueue(),
		maxPacket: maxPacket,
	}
	go f.pump()
	return f, nil
}

// pump reads bulk transfers from the OUT endpoint into the receive
// queue until the endpoint dies.
func (f *FunctionFS) pump() {
	buf := make([]byte, f.maxPacket)
	for {
		n, err := f.out.Read(buf)
		if err != nil {
			if errno, ok := err.(*os.PathError); ok && errno.Err == unix.EINTR {
				continue
			}
			f.rx.close()
			return
		}
		if err := f.rx.push(buf[:n], f.maxPacket); err != nil {
			return
		}
	}
}

func (f *FunctionFS) ReadPacket(buf []byte) (int, error) { return f.rx.pop(buf, f.maxPacket) }

func (f *FunctionFS) WritePacket(buf []byte) error {
	// A zero-length write is a real ZLP on FunctionFS.
	_, err := f.in.Write(buf)
	if err != nil {
		return fmt.Errorf("functionfs: bulk write: %w", err)
	}
	return nil
}

func (f *FunctionFS) ReadReady() <-chan struct{} { return f.rx.ready }

func (f *FunctionFS) MaxPacketSize() int { return f.maxPacket }

func (f *FunctionFS) Close() error {
	f.closeOnce.Do(func() {
		f.rx.close()
		err1 := f.in.Close()
		err2 := f.out.Close()
		if err1 != nil {
			f.closeErr = err1
		} else {
			f.closeErr = err2
		}
	})
	return f.closeErr
}
