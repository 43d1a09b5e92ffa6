package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"seance/access"
	"seance/domain"
	seanceerrors "seance/errors"
	"seance/observability"
	"seance/runtime"
)

// Server exposes the session engine over HTTP: control operations as plain
// JSON endpoints, plus a long-lived newline-delimited JSON stream per
// connected participant. Every route runs behind the identity middleware;
// the engine has no anonymous surface.
type Server struct {
	log         *slog.Logger
	coordinator *runtime.Coordinator
	tokens      *access.TokenService
	registry    *runtime.Registry
	gauges      *observability.Gauges
	bufferSize  int
}

func NewServer(log *slog.Logger, coordinator *runtime.Coordinator, tokens *access.TokenService,
	registry *runtime.Registry, gauges *observability.Gauges, streamBufferSize int) *Server {
	return &Server{
		log:         log,
		coordinator: coordinator,
		tokens:      tokens,
		registry:    registry,
		gauges:      gauges,
		bufferSize:  streamBufferSize,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(access.Middleware(s.tokens))

	v1.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/join", s.joinSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/snapshot", s.getSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/leave", s.leaveSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/close", s.closeSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/media-token", s.mediaToken).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/cursors", s.listCursors).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/messages", s.postMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/stream", s.attachStream).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.stats).Methods(http.MethodGet)

	return r
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, seanceerrors.ErrUnauthorized)
		return
	}

	var input runtime.CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, fmt.Errorf("%w: malformed body", seanceerrors.ErrValidation))
		return
	}

	snapshot, err := s.coordinator.CreateSession(input, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

type joinRequest struct {
	// Identifier is a session ID or a room code.
	Identifier string `json:"identifier"`
	Password   string `json:"password,omitempty"`
}

type joinResponse struct {
	Participant domain.Participant `json:"participant"`
	Snapshot    domain.Snapshot    `json:"snapshot"`
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, seanceerrors.ErrUnauthorized)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeError(w, fmt.Errorf("%w: identifier is required", seanceerrors.ErrValidation))
		return
	}

	result, err := s.coordinator.Join(r.Context(), req.Identifier, req.Password, identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Participant: result.Participant, Snapshot: result.Snapshot})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	summaries, err := s.coordinator.ListSessions(runtime.ListFilter{
		Type:  domain.SessionType(query.Get("type")),
		Query: query.Get("q"),
		Limit: limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.coordinator.GetSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := access.IdentityFromContext(r.Context())
	sessionID := domain.SessionID(mux.Vars(r)["id"])

	if err := s.coordinator.Leave(r.Context(), sessionID, identity.UserID, "left"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

type closeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := access.IdentityFromContext(r.Context())
	sessionID := domain.SessionID(mux.Vars(r)["id"])

	var req closeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "closed by host"
	}

	// Operators force-close on the system path instead of passing host
	// authorization.
	userID := identity.UserID
	if identity.Operator {
		userID = ""
	}

	if err := s.coordinator.CloseSession(r.Context(), sessionID, userID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// mediaToken issues a short-lived capability for the external audio/video
// service, scoped to one participant of one session.
func (s *Server) mediaToken(w http.ResponseWriter, r *http.Request) {
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

	token, err := s.tokens.IssueMediaToken(sessionID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"media_token": token})
}

func (s *Server) listCursors(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]any{
		"cursors": s.coordinator.CursorPositions(sessionID),
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gauges.Latest())
}

// postMessage accepts one client frame of the session channel. The body is
// a single envelope; the ack (or error) comes back in the response while
// broadcasts travel over the stream.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := access.IdentityFromContext(r.Context())
	sessionID := domain.SessionID(mux.Vars(r)["id"])

	var envelope Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, fmt.Errorf("%w: malformed envelope", seanceerrors.ErrValidation))
		return
	}
	if envelope.SessionID != "" && envelope.SessionID != string(sessionID) {
		writeError(w, fmt.Errorf("%w: envelope session mismatch", seanceerrors.ErrValidation))
		return
	}

	ack, err := s.handleFrame(r, sessionID, identity.UserID, envelope)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := json.Marshal(ack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: TypeAck, SessionID: string(sessionID), Payload: raw})
}

func (s *Server) handleFrame(r *http.Request, sessionID domain.SessionID, userID string,
	envelope Envelope) (AckPayload, error) {
	switch envelope.Type {
	case TypeStateUpdate:
		var payload StateUpdatePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return AckPayload{}, fmt.Errorf("%w: malformed state_update payload", seanceerrors.ErrValidation)
		}
		assigned, err := s.coordinator.UpdateState(r.Context(), sessionID, userID, payload.Updates)
		if err != nil {
			return AckPayload{}, err
		}
		return AckPayload{Assigned: assigned}, nil

	case TypeDomainEvent:
		var payload DomainEventPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return AckPayload{}, fmt.Errorf("%w: malformed domain_event payload", seanceerrors.ErrValidation)
		}
		seq, err := s.coordinator.SubmitEvent(r.Context(), sessionID, userID, payload.EventType, payload.Payload)
		if err != nil {
			return AckPayload{}, err
		}
		return AckPayload{Seq: seq}, nil

	case TypeHeartbeat:
		return AckPayload{}, s.coordinator.Heartbeat(sessionID, userID)

	case TypeCursorUpdate:
		var payload CursorPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return AckPayload{}, fmt.Errorf("%w: malformed cursor_update payload", seanceerrors.ErrValidation)
		}
		return AckPayload{}, s.coordinator.UpdateCursor(sessionID, userID, payload.X, payload.Y)

	case TypeLeave:
		return AckPayload{}, s.coordinator.Leave(r.Context(), sessionID, userID, "left")

	default:
		return AckPayload{}, fmt.Errorf("%w: unknown frame type %q", seanceerrors.ErrValidation, envelope.Type)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps engine errors to the HTTP taxonomy. Everything
// unclassified is a 500; transient saturation maps to 503 so clients back
// off and retry.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, seanceerrors.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, seanceerrors.ErrSessionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, seanceerrors.ErrSessionFull):
		status, code = http.StatusConflict, "capacity"
	case errors.Is(err, seanceerrors.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, seanceerrors.ErrSessionClosed):
		status, code = http.StatusGone, "session_closed"
	case errors.Is(err, seanceerrors.ErrMailboxFull):
		status, code = http.StatusServiceUnavailable, "overloaded"
	}

	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: err.Error()})
	writeJSON(w, status, Envelope{Type: TypeError, Payload: payload})
}
