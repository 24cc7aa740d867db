package haze

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patternByte(off int64) byte {
	return byte(off*31 + 7)
}

func patternSource(size int64) ReadFunc {
	return func(dst []byte, offset int64) (int, error) {
		n := len(dst)
		if remain := size - offset; int64(n) > remain {
			n = int(remain)
		}
		for i := 0; i < n; i++ {
			dst[i] = patternByte(offset + int64(i))
		}
		return n, nil
	}
}

// collectSink verifies every byte lands at the offset it was read
// from.
type collectSink struct {
	mu   sync.Mutex
	data []byte
}

func (c *collectSink) write(src []byte, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	need := offset + int64(len(src))
	for int64(len(c.data)) < need {
		c.data = append(c.data, 0)
	}
	copy(c.data[offset:], src)
	return nil
}

func (c *collectSink) verify(t *testing.T, size int64) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, size, int64(len(c.data)))
	for i := int64(0); i < size; i++ {
		if c.data[i] != patternByte(i) {
			t.Fatalf("byte %d got %#x want %#x", i, c.data[i], patternByte(i))
		}
	}
}

func TestTransferDeliversExactBytes(t *testing.T) {
	cases := []struct {
		name    string
		size    int64
		bufSize int
		mode    TransferMode
	}{
		{"empty", 0, 4096, SingleThreadedIfSmaller},
		{"one byte", 1, 4096, SingleThreadedIfSmaller},
		{"single threaded", 10_000, 64 * 1024, SingleThreaded},
		{"multi threaded", 1 << 20, 64 * 1024, MultiThreaded},
		{"auto picks multi", 1 << 20, 64 * 1024, SingleThreadedIfSmaller},
		{"odd sizes", 123_457, 1000, MultiThreaded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &collectSink{}
			stop := make(chan struct{})
			n, err := Transfer(tc.size, patternSource(tc.size), sink.write, tc.bufSize, tc.mode, stop, quietLogs().Xfer)
			require.NoError(t, err)
			assert.Equal(t, tc.size, n)
			sink.verify(t, tc.size)
		})
	}
}

// A stalling writer must flip the reader into slow mode: bounded waits
// and packet-sized reads instead of a blocked pipeline.
func TestTransferSlowModeEngages(t *testing.T) {
	const size = 256 * 1024
	const bufSize = 64 * 1024

	var mu sync.Mutex
	var readSizes []int
	var readTimes []time.Time

	src := patternSource(size)
	rfunc := func(dst []byte, offset int64) (int, error) {
		mu.Lock()
		readSizes = append(readSizes, len(dst))
		readTimes = append(readTimes, time.Now())
		mu.Unlock()
		return src(dst, offset)
	}

	sink := &collectSink{}
	wfunc := func(p []byte, offset int64) error {
		// Stall past the reader's bounded fullness wait so slow mode
		// reliably engages.
		time.Sleep(600 * time.Millisecond)
		return sink.write(p, offset)
	}

	stop := make(chan struct{})
	n, err := Transfer(size, rfunc, wfunc, bufSize, MultiThreaded, stop, quietLogs().Xfer)
	require.NoError(t, err)
	require.Equal(t, int64(size), n)
	sink.verify(t, size)

	mu.Lock()
	defer mu.Unlock()
	slowReads := 0
	for _, sz := range readSizes {
		if sz <= slowModeChunk {
			slowReads++
		}
	}
	assert.Greater(t, slowReads, 0, "saturated ring must engage slow mode")

	for i := 1; i < len(readTimes); i++ {
		gap := readTimes[i].Sub(readTimes[i-1])
		assert.Less(t, gap, 1500*time.Millisecond,
			"reader stalled %v between reads %d and %d", gap, i-1, i)
	}
}

func TestTransferReaderErrorPropagates(t *testing.T) {
	boom := errors.New("read failed")
	rfunc := func(dst []byte, offset int64) (int, error) {
		if offset >= 4096 {
			return 0, boom
		}
		return len(dst), nil
	}
	sink := &collectSink{}
	_, err := Transfer(1<<20, rfunc, sink.write, 4096, MultiThreaded, make(chan struct{}), quietLogs().Xfer)
	assert.ErrorIs(t, err, boom)
}

func TestTransferWriterErrorStopsReader(t *testing.T) {
	boom := errors.New("write failed")
	var reads int64
	var mu sync.Mutex
	rfunc := func(dst []byte, offset int64) (int, error) {
		mu.Lock()
		reads++
		mu.Unlock()
		return len(dst), nil
	}
	wfunc := func(p []byte, offset int64) error { return boom }

	_, err := Transfer(1<<30, rfunc, wfunc, 64*1024, MultiThreaded, make(chan struct{}), quietLogs().Xfer)
	assert.ErrorIs(t, err, boom)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, reads, int64(100), "reader must stop once the writer dies")
}

func TestTransferCancellation(t *testing.T) {
	stop := make(chan struct{})
	wfunc := func(p []byte, offset int64) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := Transfer(1<<30, patternSource(1<<30), wfunc, 64*1024, MultiThreaded, stop, quietLogs().Xfer)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportCancelled)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("workers did not exit after cancellation")
	}
}

func TestTransferShortSourceStopsEarly(t *testing.T) {
	// Source dries up after 1000 bytes of a promised 4096.
	rfunc := func(dst []byte, offset int64) (int, error) {
		if offset >= 1000 {
			return 0, nil
		}
		n := len(dst)
		if remain := 1000 - offset; int64(n) > remain {
			n = int(remain)
		}
		return n, nil
	}
	sink := &collectSink{}
	n, err := Transfer(4096, rfunc, sink.write, 512, MultiThreaded, make(chan struct{}), quietLogs().Xfer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n, "caller learns the payload came up short")
}

func TestAlignedBuffer(t *testing.T) {
	for _, n := range []int{1, 512, 4096, 100_000} {
		buf := alignedBuffer(n)
		assert.Len(t, buf, n)
		assert.True(t, isPageAligned(buf))
	}
}
