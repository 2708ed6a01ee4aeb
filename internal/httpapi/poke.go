package httpapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"replichat/server/internal/poke"
)

// handlePoke serves the long-lived invalidation stream as server-sent
// events. Events carry no payload beyond "something changed, go pull";
// periodic beats let clients fall back to time-based pulls when poke
// delivery failed.
func (s *Server) handlePoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")

	events := make(chan string, 8)
	unlisten := s.hub.AddListener(poke.DefaultChannel, func() {
		// Drop the poke if the stream is backed up; the pending one already
		// tells the client to pull.
		select {
		case events <- "poke":
		default:
		}
	})
	defer unlisten()

	writeEvent(w, "hello")
	flusher.Flush()

	beat := time.NewTicker(s.beatInterval)
	defer beat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			writeEvent(w, event)
			flusher.Flush()
		case <-beat.C:
			writeEvent(w, "beat")
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, data string) {
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", time.Now().UnixMilli(), data)
}

var pokeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handlePokeSocket is the websocket variant of the poke stream: text frames
// "poke" and "beat" with the same semantics as the event stream.
func (s *Server) handlePokeSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := pokeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("poke socket upgrade: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan string, 8)
	unlisten := s.hub.AddListener(poke.DefaultChannel, func() {
		select {
		case events <- "poke":
		default:
		}
	})
	defer unlisten()

	// Drain incoming frames so control messages are handled and a closed
	// connection is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	beat := time.NewTicker(s.beatInterval)
	defer beat.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event := <-events:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		case <-beat.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("beat")); err != nil {
				return
			}
		}
	}
}
