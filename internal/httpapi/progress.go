package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/go-chi/chi/v5"
)

// handleProgress streams a document's progress events as server-sent
// events until a ready or error event is written or the client leaves.
// When no run is live, the stored state is sent as a single event.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming unsupported"))
		return
	}
	if _, err := s.deps.Store.GetDocument(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	sub := s.deps.Events.Subscribe(id)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.deps.KeepAlive)
	defer keepAlive.Stop()

	sent := 0
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if sent == 0 {
					s.writeSnapshot(w, r, id)
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			sent++
			if ev.Terminal() {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSnapshot sends the stored state of a document with no live run.
func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := s.deps.Store.GetDocument(r.Context(), id)
	if err != nil {
		s.logger.Warn("Progress snapshot unavailable.", "documentId", id, "error", err)
		return
	}
	_ = writeEvent(w, models.ProgressEvent{
		DocumentID: doc.ID,
		Stage:      doc.CurrentStage,
		Progress:   doc.Progress,
		Status:     doc.Status,
		Timestamp:  time.Now().UTC(),
	})
}

func writeEvent(w http.ResponseWriter, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
