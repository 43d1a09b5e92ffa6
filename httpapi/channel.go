package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"seance/access"
	"seance/domain"
	"seance/domain/event"
	seanceerrors "seance/errors"
)

// attachStream opens the server half of the session channel: a long-lived
// response of newline-delimited JSON envelopes, one per broadcast event.
// The handler registers a dedicated sink in the registry and blocks until
// the client goes away or the session closes. The deferred unregistration
// is what keeps the registry free of dead connections.
func (s *Server) attachStream(w http.ResponseWriter, r *http.Request) {
	identity, _ := access.IdentityFromContext(r.Context())
	sessionID := domain.SessionID(mux.Vars(r)["id"])

	snapshot, err := s.coordinator.GetSnapshot(r.Context(), string(sessionID))
	if err != nil {
		writeError(w, err)
		return
	}
	member := false
	for _, p := range snapshot.Participants {
		if p.UserID == identity.UserID {
			member = true
			break
		}
	}
	if !member {
		writeError(w, seanceerrors.ErrUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, seanceerrors.ErrValidation)
		return
	}

	sink := NewStreamSink(s.bufferSize)
	s.registry.Subscribe(identity.UserID, sessionID, sink)
	defer s.registry.Unsubscribe(identity.UserID, sessionID)
	s.gauges.ParticipantConnected()
	defer s.gauges.ParticipantGone()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("Stream client disconnected",
				"session_id", sessionID, "user_id", identity.UserID)
			return
		case evt := <-sink.Events:
			envelope, ok := fromEvent(evt)
			if !ok {
				continue
			}
			if err := encoder.Encode(envelope); err != nil {
				s.log.Warn("Failed to push frame to stream",
					"session_id", sessionID, "user_id", identity.UserID, "error", err)
				return
			}
			flusher.Flush()

			if _, closed := evt.(event.SessionClosed); closed {
				return
			}
		}
	}
}
