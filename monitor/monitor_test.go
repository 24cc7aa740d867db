package monitor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITotalJustice/libhaze/haze"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	s := NewServer(quietLogger())
	for i := 0; i < 1000; i++ {
		s.Publish(haze.CallbackData{Type: haze.CallbackReadProgress, Offset: int64(i), Size: 1})
	}
	// Reaching here without a deadlock is the assertion; the queue
	// drops the overflow.
	assert.LessOrEqual(t, len(s.events), cap(s.events))
}

func TestEventBroadcast(t *testing.T) {
	s := NewServer(quietLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.HandleEvents)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.events:
				s.broadcast(ev)
			}
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Give the server a moment to register the client.
	time.Sleep(50 * time.Millisecond)
	s.Publish(haze.CallbackData{Type: haze.CallbackCreateFile, Filename: "/tmp/a/x.dat"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "CreateFile", ev.Type)
	assert.Equal(t, "/tmp/a/x.dat", ev.Filename)
}
