// The haze package implements the responder (device) side of PTP/MTP
// over a USB bulk transport. It exposes one or more filesystem roots
// to a USB host and reports progress to the embedding application
// through a callback.
package haze

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/usb"
)

// DefaultFunctionFSPath is where the MTP function of the gadget is
// usually mounted.
const DefaultFunctionFSPath = "/dev/ffs-mtp"

// Config carries everything RunApplication needs beyond the endpoint
// pair.
type Config struct {
	Entries  []FsEntry
	Callback Callback

	// Logger defaults to log.Root.
	Logger *logrus.Logger
	Debug  bool

	// Device identity as reported in DeviceInfo. SerialNumber is
	// generated when empty.
	Manufacturer  string
	Model         string
	DeviceVersion string
	SerialNumber  string
	FriendlyName  string

	// TransferBufferSize tunes the pipeline slot size; zero means
	// DefaultTransferBufferSize.
	TransferBufferSize int

	// Priority and CPUAffinity apply to the responder thread where the
	// platform supports them; a zero Priority and a negative
	// CPUAffinity leave the defaults.
	Priority    int
	CPUAffinity int
}

// RunApplication serves PTP requests on ep until ctx is cancelled or
// the transport dies. It owns the reactor, the object heap and the
// responder; the caller owns the endpoint pair and the context.
func RunApplication(ctx context.Context, ep usb.EndpointPair, cfg *Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root
	}
	logs := log.PrepareChildren(logger, cfg.Debug, cfg.Debug, cfg.Debug, cfg.Debug, cfg.Debug)

	sink := newCallbackSink(cfg.Callback)
	return runApplication(ctx, ep, cfg, sink, logs)
}

func runApplication(ctx context.Context, ep usb.EndpointPair, cfg *Config, sink *callbackSink, logs *log.Children) error {
	fsp, err := NewFilesystemProxy(cfg.Entries, sink, logs.FS)
	if err != nil {
		return err
	}

	heap := NewObjectHeap()
	reactor := NewEventReactor(logs.MTP)
	srv := NewAsyncUsbServer(ep, ctx.Done(), logs.USB)
	responder := NewPtpResponder(srv, heap, fsp, sink, logs, ctx.Done(), cfg)

	reactor.AddConsumer(responder, srv.ReadReady())

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			reactor.Cancel()
		case <-stopWatch:
		}
	}()

	logs.MTP.Infof("serving %d storage(s)", len(cfg.Entries))
	err = reactor.WaitForSomething()
	responder.Finalize()

	if errors.Is(err, ErrStopRequested) || errors.Is(err, ErrTransportCancelled) {
		logs.MTP.Info("stopped")
		return nil
	}
	return err
}

// The running instance. A USB device function is a singleton by
// nature, so a single instance is enforced at init, in-process through
// the running flag and across processes through a file lock.
var global struct {
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	ep       usb.EndpointPair
	sink     *callbackSink
	fileLock *flock.Flock
}

func lockPath() string {
	return filepath.Join(os.TempDir(), "libhaze.lock")
}

// InitializeWithEndpoint starts the responder worker on an
// already-open endpoint pair. It fails if an instance is running or no
// storage entries are configured.
func InitializeWithEndpoint(ep usb.EndpointPair, cfg *Config) bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.running {
		return false
	}
	if len(cfg.Entries) == 0 || len(cfg.Entries) > maxStorages {
		return false
	}

	fileLock := flock.New(lockPath())
	if locked, err := fileLock.TryLock(); err != nil || !locked {
		return false
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Root
	}
	logs := log.PrepareChildren(logger, cfg.Debug, cfg.Debug, cfg.Debug, cfg.Debug, cfg.Debug)
	sink := newCallbackSink(cfg.Callback)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	global.running = true
	global.cancel = cancel
	global.done = done
	global.ep = ep
	global.sink = sink
	global.fileLock = fileLock

	go func() {
		defer close(done)
		runtime.LockOSThread()
		applyThreadTuning(cfg.Priority, cfg.CPUAffinity, logs.MTP)
		if err := runApplication(ctx, ep, cfg, sink, logs); err != nil {
			logs.MTP.Errorf("responder exited: %v", err)
		}
	}()
	return true
}

// Exit requests stop, joins the worker and clears state. After Exit
// returns no further callbacks are emitted and no worker remains.
func Exit() {
	global.mu.Lock()
	defer global.mu.Unlock()
	if !global.running {
		return
	}

	global.sink.disable()
	global.cancel()
	global.ep.Close()
	<-global.done

	global.fileLock.Unlock()
	global.running = false
	global.cancel = nil
	global.done = nil
	global.ep = nil
	global.sink = nil
	global.fileLock = nil
}
