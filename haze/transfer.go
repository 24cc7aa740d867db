package haze

import (
	"context"
	"time"

	"github.com/docker/go-units"
	uatomic "go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ITotalJustice/libhaze/log"
)

// TransferMode selects how a payload moves between reader and writer.
type TransferMode int

const (
	// SingleThreaded runs an inline read/write loop.
	SingleThreaded TransferMode = iota
	// MultiThreaded decouples reader and writer through a two-slot
	// ring of buffers.
	MultiThreaded
	// SingleThreadedIfSmaller picks SingleThreaded when the payload
	// fits one buffer.
	SingleThreadedIfSmaller
)

// ReadFunc fills dst from the source at offset, returning how many
// bytes it produced. Short reads are fine; zero means the source is
// exhausted.
type ReadFunc func(dst []byte, offset int64) (int, error)

// WriteFunc consumes src at offset, completely or not at all.
type WriteFunc func(src []byte, offset int64) error

// DefaultTransferBufferSize is the per-slot buffer size of the
// pipeline.
const DefaultTransferBufferSize = 256 * 1024

// slowModeChunk caps per-read size while the ring is saturated. Some
// host stacks freeze when a single bulk transfer takes longer than a
// few seconds; trickling packet-sized reads keeps the pipe moving.
const slowModeChunk = 1024

// fullnessWait bounds how long the reader waits for ring space before
// deciding the downstream is saturated.
const fullnessWait = 500 * time.Millisecond

type transferData struct {
	rfunc ReadFunc
	wfunc WriteFunc
	size  int64

	bufSize int

	// ring is the two-slot buffer channel between reader and writer;
	// drained pulses after every writer pop so the reader's bounded
	// fullness wait can end early.
	ring    chan []byte
	drained chan struct{}

	stop <-chan struct{}

	readOffset   uatomic.Int64
	writeOffset  uatomic.Int64
	writeRunning uatomic.Bool

	log *log.ChildLogger
}

func (t *transferData) checkStop(ctx context.Context) error {
	select {
	case <-t.stop:
		return ErrTransportCancelled
	case <-ctx.Done():
		return ErrTransportCancelled
	default:
		return nil
	}
}

// writeBufFull reports ring saturation, waiting up to fullnessWait for
// the writer to free a slot first.
func (t *transferData) writeBufFull() bool {
	if len(t.ring) < cap(t.ring) {
		return false
	}
	timer := time.NewTimer(fullnessWait)
	defer timer.Stop()
	select {
	case <-t.drained:
	case <-timer.C:
	case <-t.stop:
	}
	return len(t.ring) == cap(t.ring)
}

func (t *transferData) push(ctx context.Context, buf []byte) error {
	select {
	case t.ring <- buf:
		return nil
	case <-t.stop:
		return ErrTransportCancelled
	case <-ctx.Done():
		return ErrTransportCancelled
	}
}

// readLoop pulls from rfunc until the payload is exhausted. While the
// ring is saturated it reads in slow mode: packet-sized chunks
// accumulated locally, flushed once the writer catches up.
func (t *transferData) readLoop(ctx context.Context) error {
	defer close(t.ring)

	transferBuf := alignedBuffer(t.bufSize)
	pending := make([]byte, 0, t.bufSize)
	slow := false

	for t.readOffset.Load() < t.size {
		if err := t.checkStop(ctx); err != nil {
			return err
		}

		full := t.writeBufFull()
		if full && !t.writeRunning.Load() {
			t.log.Debug("read: write side exited, stopping")
			break
		}
		if !slow && full {
			slow = true
			t.log.Debug("read: switching to slow mode")
		} else if slow && !full {
			slow = false
			t.log.Debug("read: switching to fast mode")
		}

		readSize := int64(t.bufSize)
		if slow && readSize > slowModeChunk {
			readSize = slowModeChunk
		}
		if remain := t.size - t.readOffset.Load(); readSize > remain {
			readSize = remain
		}

		n, err := t.rfunc(transferBuf[:readSize], t.readOffset.Load())
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		t.readOffset.Add(int64(n))
		pending = append(pending, transferBuf[:n]...)

		if !slow {
			if err := t.push(ctx, pending); err != nil {
				return err
			}
			pending = make([]byte, 0, t.bufSize)
		}
	}

	if len(pending) > 0 {
		return t.push(ctx, pending)
	}
	return nil
}

func (t *transferData) writeLoop(ctx context.Context) error {
	defer t.writeRunning.Store(false)
	defer func() {
		// Wake a reader stuck in its bounded fullness wait.
		select {
		case t.drained <- struct{}{}:
		default:
		}
	}()

	for {
		select {
		case buf, ok := <-t.ring:
			if !ok {
				return nil
			}
			if err := t.checkStop(ctx); err != nil {
				return err
			}
			off := t.writeOffset.Load()
			if err := t.wfunc(buf, off); err != nil {
				return err
			}
			t.writeOffset.Add(int64(len(buf)))
			select {
			case t.drained <- struct{}{}:
			default:
			}
		case <-t.stop:
			return ErrTransportCancelled
		case <-ctx.Done():
			return ErrTransportCancelled
		}
	}
}

// Transfer moves size bytes from rfunc to wfunc and returns how many
// bytes reached the writer. stop aborts the transfer at the next chunk
// boundary.
func Transfer(size int64, rfunc ReadFunc, wfunc WriteFunc, bufSize int, mode TransferMode, stop <-chan struct{}, lg *log.ChildLogger) (int64, error) {
	if bufSize <= 0 {
		bufSize = DefaultTransferBufferSize
	}
	if int64(bufSize) > size && size > 0 {
		bufSize = int(size)
	}
	if mode == SingleThreadedIfSmaller {
		if size <= int64(bufSize) {
			mode = SingleThreaded
		} else {
			mode = MultiThreaded
		}
	}

	if mode == SingleThreaded {
		lg.Debugf("single-threaded transfer of %s", units.BytesSize(float64(size)))
		return transferSingle(size, rfunc, wfunc, bufSize, stop)
	}

	lg.Debugf("multi-threaded transfer of %s", units.BytesSize(float64(size)))
	t := &transferData{
		rfunc:   rfunc,
		wfunc:   wfunc,
		size:    size,
		bufSize: bufSize,
		ring:    make(chan []byte, 2),
		drained: make(chan struct{}, 1),
		stop:    stop,
		log:     lg,
	}
	t.writeRunning.Store(true)

	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(func() error { return t.readLoop(ctx) })
	eg.Go(func() error { return t.writeLoop(ctx) })
	err := eg.Wait()
	return t.writeOffset.Load(), err
}

func transferSingle(size int64, rfunc ReadFunc, wfunc WriteFunc, bufSize int, stop <-chan struct{}) (int64, error) {
	buf := alignedBuffer(bufSize)

	var offset int64
	for offset < size {
		select {
		case <-stop:
			return offset, ErrTransportCancelled
		default:
		}

		want := int64(bufSize)
		if remain := size - offset; want > remain {
			want = remain
		}
		n, err := rfunc(buf[:want], offset)
		if err != nil {
			return offset, err
		}
		if n == 0 {
			break
		}
		if err := wfunc(buf[:n], offset); err != nil {
			return offset, err
		}
		offset += int64(n)
	}
	return offset, nil
}
