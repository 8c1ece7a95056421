package internal_transformer_openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

// floodServer upgrades the connection, writes a burst of completed-transcript
// frames, then holds the socket open until the client closes.
func floodServer(t *testing.T, frames int, flooded chan<- struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < frames; i++ {
			frame := fmt.Sprintf(`{"type":%q,"transcript":"line %d"}`, msgTypeCompleted, i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		close(flooded)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestCloseReleasesReadLoopDuringEventBurst(t *testing.T) {
	flooded := make(chan struct{})
	srv := floodServer(t, 200, flooded)
	defer srv.Close()

	orig := realtimeURL
	realtimeURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	defer func() { realtimeURL = orig }()

	p, err := NewProvider(commons.NewNopLogger(), "test-key")
	require.NoError(t, err)
	sess, err := p.OpenSession(context.Background(), internal_type.SttOptions{Language: "en"})
	require.NoError(t, err)

	<-flooded
	// Nothing drains the session, so the read loop fills its buffer and
	// parks on the next event handoff.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sess.Close(context.Background()))

	// The read loop closes Errors() on exit; if close did not unpark it the
	// channel would never close.
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case _, ok := <-sess.Errors():
			if !ok {
				return
			}
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("read loop never exited after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
