package haze

import (
	"reflect"
	"sync"

	"github.com/ITotalJustice/libhaze/log"
)

// Waiter is a wait object: a channel that becomes ready when its owner
// has work for the attached consumer.
type Waiter <-chan struct{}

// EventConsumer is implemented by everything the reactor can dispatch
// to. ProcessEvent must not block on unrelated work; long I/O is split
// at packet boundaries.
type EventConsumer interface {
	ProcessEvent() error
}

type reactorEntry struct {
	consumer EventConsumer
	waiter   Waiter
}

// EventReactor is a single-threaded cooperative dispatcher over a set
// of wait objects. Consumers are registered with AddConsumer and run
// one at a time on the reactor goroutine. The first non-nil result
// stored with SetResult terminates the loop.
type EventReactor struct {
	entries []reactorEntry
	result  error

	cancel     chan struct{}
	cancelOnce sync.Once

	log *log.ChildLogger
}

func NewEventReactor(lg *log.ChildLogger) *EventReactor {
	return &EventReactor{
		cancel: make(chan struct{}),
		log:    lg,
	}
}

// AddConsumer registers a consumer with its wait object. It must be
// called before WaitForSomething starts, or from a consumer running on
// the reactor goroutine.
func (r *EventReactor) AddConsumer(c EventConsumer, w Waiter) {
	r.entries = append(r.entries, reactorEntry{consumer: c, waiter: w})
}

func (r *EventReactor) RemoveConsumer(c EventConsumer) {
	for i, e := range r.entries {
		if e.consumer == c {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// SetResult stores the first terminal result. Later calls are ignored
// until ClearResult.
func (r *EventReactor) SetResult(err error) {
	if r.result == nil {
		r.result = err
	}
}

// ClearResult rearms the reactor for another serving loop.
func (r *EventReactor) ClearResult() {
	r.result = nil
}

// Cancel signals the reactor's cancel wait object. Safe to call from
// any goroutine, any number of times.
func (r *EventReactor) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

// WaitForSomething blocks on the cancel object and every registered
// waiter, dispatching the ready consumer, until a terminal result is
// stored. It returns that result.
func (r *EventReactor) WaitForSomething() error {
	for r.result == nil {
		cases := make([]reflect.SelectCase, 0, len(r.entries)+1)
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(r.cancel),
		})
		for _, e := range r.entries {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf((<-chan struct{})(e.waiter)),
			})
		}

		idx, _, _ := reflect.Select(cases)
		if idx == 0 {
			r.log.Debug("reactor: stop requested")
			r.SetResult(ErrStopRequested)
			break
		}

		if err := r.entries[idx-1].consumer.ProcessEvent(); err != nil {
			r.log.Debugf("reactor: consumer finished with %v", err)
			r.SetResult(err)
		}
	}
	return r.result
}
