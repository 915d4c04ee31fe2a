package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/version"
)

// AttachAdminRoutes mounts the live event tail and simulation state under
// the tsweb /debug/ index of mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KV("Version", version.String())
	debug.KVFunc("Mode", func() any { return s.cfg.Traffic.Field().Mode().String() })
	debug.KVFunc("Cars", func() any { return len(s.cfg.Traffic.Cars()) })
	debug.KVFunc("Paused", func() any { return s.cfg.Pause.Paused() })
	debug.KVFunc("Events", func() any { return s.sink().Seq() })

	debug.HandleFunc("grid", "current grid in layout notation", s.serveLayout)
	debug.HandleFunc("waiting", "cars waiting for a lock", s.showWaiting)
	debug.HandleSilentFunc("events", s.tailEvents)
	debug.HandleSilentFunc("toggle-pause", s.togglePause)
}

func (s *Server) serveLayout(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Traffic.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%d %d\n", snap.Rows, snap.Cols)
	io.WriteString(w, snap.String())
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Pause == nil {
		http.Error(w, "Pause not supported", http.StatusNotFound)
		return
	}
	paused := s.cfg.Pause.Toggle()
	logf("pause toggled: paused=%v", paused)
	fmt.Fprintf(w, "paused=%v\n", paused)
}

// tailEvents streams events as Server-Sent Events until the client goes away
// or the sink closes. The kind and actor query parameters filter the stream.
func (s *Server) tailEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	match, err := eventFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.sink().Subscribe(s.cfg.SSEBuffer)
	defer s.sink().Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev, ok := <-c:
			if !ok {
				return
			}
			if !match(ev) {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, ev monitor.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, payload)
	return err
}
