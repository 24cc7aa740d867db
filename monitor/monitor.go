// The monitor package serves responder events to WebSocket observers:
// a small dashboard surface for watching transfers land on the device.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulbellamy/ratecounter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ITotalJustice/libhaze/haze"
	"github.com/ITotalJustice/libhaze/log"
)

// Event is the JSON form of one callback event.
type Event struct {
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	NewName  string `json:"newname,omitempty"`
	Offset   int64  `json:"offset,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Rate     int64  `json:"rate_bps,omitempty"`
}

// Server broadcasts responder events to connected WebSocket clients.
type Server struct {
	upgrader websocket.Upgrader

	clients map[*websocket.Conn]bool
	lock    sync.Mutex

	events chan Event
	rate   *ratecounter.RateCounter

	log *logrus.Logger
}

func NewServer(log *logrus.Logger) *Server {
	return &Server{
		clients: map[*websocket.Conn]bool{},
		events:  make(chan Event, 64),
		rate:    ratecounter.NewRateCounter(time.Second),
		log:     log,
	}
}

// Publish queues one responder event for broadcast. It is safe to call
// from the responder goroutine: when the queue is full the event is
// dropped rather than blocking a transfer.
func (s *Server) Publish(data haze.CallbackData) {
	ev := Event{
		Type:     data.Type.String(),
		Filename: data.Filename,
		NewName:  data.NewName,
		Offset:   data.Offset,
		Size:     data.Size,
	}
	switch data.Type {
	case haze.CallbackReadProgress, haze.CallbackWriteProgress:
		s.rate.Incr(data.Size)
		ev.Rate = s.rate.Rate()
	}

	select {
	case s.events <- ev:
	default:
	}
}

// HandleEvents upgrades the connection and registers it for event
// broadcast until the peer goes away.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("prefix", "monitor").Errorf("failed to upgrade: %s", err)
		return
	}
	defer ws.Close()

	s.register(ws)
	for {
		var mes struct{}
		if err := ws.ReadJSON(&mes); err != nil {
			s.unregister(ws)
			return
		}
	}
}

func (s *Server) register(c *websocket.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.clients[c] = true
}

func (s *Server) unregister(c *websocket.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.clients, c)
}

func (s *Server) broadcast(ev Event) {
	s.lock.Lock()
	defer s.lock.Unlock()

	j, err := json.Marshal(ev)
	if err != nil {
		s.log.WithField("prefix", "monitor").Errorf("failed to marshal event: %s", err)
		return
	}
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, j); err != nil {
			s.log.WithField("prefix", "monitor").Errorf("failed to send event: %s", err)
		}
	}
}

// ListenAndServe runs the HTTP listener and the broadcast worker until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.HandleEvents)

	srv := &http.Server{Addr: addr, Handler: log.HTTPLogHandler(mux)}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				srv.Close()
				return nil
			case ev := <-s.events:
				s.broadcast(ev)
			}
		}
	})
	return eg.Wait()
}
