package haze

import (
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	uatomic "go.uber.org/atomic"
)

// CallbackType identifies one embedding-visible event.
type CallbackType int

const (
	CallbackOpenSession CallbackType = iota
	CallbackCloseSession
	CallbackCreateFile
	CallbackDeleteFile
	CallbackRenameFile
	CallbackRenameFolder
	CallbackCreateFolder
	CallbackDeleteFolder
	CallbackReadBegin
	CallbackReadProgress
	CallbackReadEnd
	CallbackWriteBegin
	CallbackWriteProgress
	CallbackWriteEnd
)

var callbackNames = map[CallbackType]string{
	CallbackOpenSession:   "OpenSession",
	CallbackCloseSession:  "CloseSession",
	CallbackCreateFile:    "CreateFile",
	CallbackDeleteFile:    "DeleteFile",
	CallbackRenameFile:    "RenameFile",
	CallbackRenameFolder:  "RenameFolder",
	CallbackCreateFolder:  "CreateFolder",
	CallbackDeleteFolder:  "DeleteFolder",
	CallbackReadBegin:     "ReadBegin",
	CallbackReadProgress:  "ReadProgress",
	CallbackReadEnd:       "ReadEnd",
	CallbackWriteBegin:    "WriteBegin",
	CallbackWriteProgress: "WriteProgress",
	CallbackWriteEnd:      "WriteEnd",
}

func (t CallbackType) String() string {
	if n, ok := callbackNames[t]; ok {
		return n
	}
	return "Unknown"
}

// CallbackData is the payload delivered with every event. Filename and
// NewName are set for file events, Offset/Size for progress events.
type CallbackData struct {
	Type     CallbackType
	Filename string
	NewName  string
	Offset   int64
	Size     int64
}

// Callback receives events on the responder goroutine. It must be fast
// and must not block; long work belongs on the embedder's own
// goroutine.
type Callback func(CallbackData)

// maxCallbackFilename bounds the path reported in events.
const maxCallbackFilename = 768

const progressUpdateInterval = 250 * time.Millisecond

// callbackSink fans events out to the configured callback. Progress
// events are throttled so a fast transfer does not flood the embedder,
// and a byte-rate counter of the progress deltas is kept (see Rate).
type callbackSink struct {
	fn           Callback
	gate         uatomic.Bool // cleared by Exit; no events after
	lastProgress int64
	rate         *ratecounter.RateCounter
}

func newCallbackSink(fn Callback) *callbackSink {
	s := &callbackSink{
		fn:   fn,
		rate: ratecounter.NewRateCounter(time.Second),
	}
	s.gate.Store(true)
	return s
}

func (s *callbackSink) disable() {
	s.gate.Store(false)
}

// Rate returns the current transfer throughput in bytes per second.
func (s *callbackSink) Rate() int64 {
	return s.rate.Rate()
}

func clampFilename(name string) string {
	if len(name) > maxCallbackFilename {
		return name[:maxCallbackFilename]
	}
	return name
}

func (s *callbackSink) emit(data CallbackData) {
	if s.fn == nil || !s.gate.Load() {
		return
	}
	data.Filename = clampFilename(data.Filename)
	data.NewName = clampFilename(data.NewName)
	s.fn(data)
}

func (s *callbackSink) session(t CallbackType) {
	s.emit(CallbackData{Type: t})
}

func (s *callbackSink) file(t CallbackType, name string) {
	s.emit(CallbackData{Type: t, Filename: name})
}

func (s *callbackSink) rename(t CallbackType, name, newname string) {
	s.emit(CallbackData{Type: t, Filename: name, NewName: newname})
}

// progress counts delta bytes into the rate counter and emits a
// throttled progress event. Begin/End events are never throttled.
func (s *callbackSink) progress(t CallbackType, offset, size, delta int64) {
	s.rate.Incr(delta)
	if !shouldUpdateProgress(&s.lastProgress) {
		return
	}
	s.emit(CallbackData{Type: t, Offset: offset, Size: size})
}

func shouldUpdateProgress(last *int64) bool {
	now := time.Now().UnixNano()
	prev := atomic.LoadInt64(last)
	if now-prev < int64(progressUpdateInterval) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, now)
}
