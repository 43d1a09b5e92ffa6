package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"seance/access"
	"seance/contract"
	"seance/domain"
	"seance/domain/event"
	seanceerrors "seance/errors"
	"seance/moderation"
	"seance/observability"
	"seance/runtime/workers"
)

const roomCodeAttempts = 10

// Options are the engine's tuning knobs, loaded from the environment by the
// binary.
type Options struct {
	MailboxSize         int
	EventBufferSize     int
	RoomCodeLength      int
	SinkTimeout         time.Duration
	PresenceInterval    time.Duration
	PresenceTimeout     time.Duration
	CursorSweepInterval time.Duration
	CursorTTL           time.Duration
	HealthInterval      time.Duration
}

// CreateSessionInput is the validated configuration of a new session.
type CreateSessionInput struct {
	Title           string             `json:"title" validate:"required,max=120"`
	Type            domain.SessionType `json:"type" validate:"required,oneof=tarot numerology canvas"`
	MaxParticipants int                `json:"max_participants" validate:"gte=2,lte=20"`
	IsPrivate       bool               `json:"is_private"`
	Password        string             `json:"password,omitempty" validate:"required_if=IsPrivate true,omitempty,min=4,max=72"`
}

// ListFilter narrows a session listing.
type ListFilter struct {
	Type  domain.SessionType
	Query string
	Limit int
}

// Coordinator is the session registry: the arena of live sessions addressed
// by ID, exclusively owned here. It creates sessions, routes typed commands
// into each session's mailbox, and tears sessions down when their workers
// finish. Other components never hold a mutable Session reference; they
// hold a SessionID and ask the coordinator.
type Coordinator struct {
	mu         sync.RWMutex
	log        *slog.Logger
	supervisor *workers.Supervisor
	registry   contract.IRegistry
	cursors    *CursorTable
	index      contract.ISessionIndex
	moderator  *moderation.Moderator
	gauges     *observability.Gauges
	validate   *validator.Validate
	opts       Options

	events    chan event.Event
	sessions  map[domain.SessionID]*sessionHandle
	codes     map[string]domain.SessionID
	permanent []contract.EventSink

	clock func() time.Time
	idGen func() string
}

// sessionHandle is the coordinator's immutable-ish view of one live
// session: routing metadata plus the mailbox. The mutable record itself
// lives with the session worker. Password hashes sit here because argon2
// verification is too expensive to run on a serialization point.
type sessionHandle struct {
	id           domain.SessionID
	roomCode     string
	title        string
	kind         domain.SessionType
	isPrivate    bool
	passwordHash string
	maxParts     int
	createdAt    time.Time

	commands chan domain.Command
	done     chan struct{}

	participants atomic.Int64
	hostID       atomic.Value // string
}

func NewCoordinator(log *slog.Logger, supervisor *workers.Supervisor, registry contract.IRegistry,
	cursors *CursorTable, index contract.ISessionIndex, moderator *moderation.Moderator,
	gauges *observability.Gauges, opts Options) *Coordinator {
	return &Coordinator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		cursors:    cursors,
		index:      index,
		moderator:  moderator,
		gauges:     gauges,
		validate:   validator.New(),
		opts:       opts,
		events:     make(chan event.Event, opts.EventBufferSize),
		sessions:   make(map[domain.SessionID]*sessionHandle),
		codes:      make(map[string]domain.SessionID),
		clock:      time.Now,
		idGen:      uuid.NewString,
	}
}

// Add registers permanent event sinks (persistence, test observers) that
// will see every event of every session once Start wires the fanout.
func (c *Coordinator) Add(sinks ...contract.EventSink) {
	c.permanent = append(c.permanent, sinks...)
}

// Start wires the background workers and launches the supervisor. Session
// workers are started later, one per CreateSession, under the same
// supervised context.
func (c *Coordinator) Start(ctx context.Context) error {
	fanout := workers.NewEventFanout(c.log, c.events, c.registry, c.opts.SinkTimeout, c.gauges).
		Add(append([]contract.EventSink{c.cursors, lifecycleSink{c}}, c.permanent...)...)

	c.supervisor.Add(
		fanout,
		workers.NewPresenceSweep(c.log, c, c.opts.PresenceInterval, c.opts.PresenceTimeout),
		workers.NewCursorSweep(c.log, c.cursors, c.opts.CursorSweepInterval, c.opts.CursorTTL),
		workers.NewHealthWorker(c.log, c.gauges, c.opts.HealthInterval),
	)

	// Bind before launching: a CreateSession racing Run must still hand its
	// session worker the supervised context, not the background one.
	c.supervisor.Bind(ctx)
	go c.supervisor.Run(ctx)
	return nil
}

func (c *Coordinator) Stop() {
	c.supervisor.Stop()
}

// CreateSession validates the config, reserves a unique room code among the
// non-closed sessions, and starts the session's worker. The creator becomes
// host but is not a participant until its first join.
func (c *Coordinator) CreateSession(input CreateSessionInput, hostID string) (domain.Snapshot, error) {
	if hostID == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: host id is required", seanceerrors.ErrValidation)
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := c.validate.Struct(input); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", seanceerrors.ErrValidation, err)
	}

	passwordHash := ""
	if input.IsPrivate {
		hash, err := access.HashPassword(input.Password)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("hash session password: %w", err)
		}
		passwordHash = hash
	}

	id := domain.SessionID(c.idGen())
	now := c.clock()

	c.mu.Lock()
	code, err := c.reserveRoomCodeLocked()
	if err != nil {
		c.mu.Unlock()
		return domain.Snapshot{}, err
	}

	session := domain.NewSession(id, input.Title, input.Type, hostID, code,
		input.MaxParticipants, input.IsPrivate, passwordHash, now)

	h := &sessionHandle{
		id:           id,
		roomCode:     code,
		title:        input.Title,
		kind:         input.Type,
		isPrivate:    input.IsPrivate,
		passwordHash: passwordHash,
		maxParts:     input.MaxParticipants,
		createdAt:    now.UTC(),
		commands:     make(chan domain.Command, c.opts.MailboxSize),
		done:         make(chan struct{}),
	}
	h.hostID.Store(hostID)
	c.sessions[id] = h
	c.codes[code] = id
	c.mu.Unlock()

	if err := c.index.Index(c.summary(h)); err != nil {
		c.log.Warn("Failed to index session", "session_id", id, "error", err)
	}
	c.gauges.SessionOpened()

	worker := workers.NewSessionWorker(session, h.commands, h.done, c.events,
		c.log, c.gauges, c.removeSession)
	c.supervisor.Start(c.supervisor.Context(), worker)

	c.log.Info("Session created",
		"session_id", id, "room_code", code, "type", input.Type, "host_id", hostID)
	return session.Snapshot(), nil
}

// reserveRoomCodeLocked draws codes until one is free. Codes of closed
// sessions were released by removeSession, so they can recirculate.
func (c *Coordinator) reserveRoomCodeLocked() (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code, err := access.GenerateRoomCode(c.opts.RoomCodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := c.codes[code]; !taken {
			return code, nil
		}
	}
	return "", seanceerrors.ErrCodeExhausted
}

// removeSession is the worker's onClosed callback: the one place a session
// leaves the arena and its room code becomes reusable.
func (c *Coordinator) removeSession(id domain.SessionID) {
	c.mu.Lock()
	h, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
		delete(c.codes, h.roomCode)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.index.Remove(id); err != nil {
		c.log.Warn("Failed to deindex session", "session_id", id, "error", err)
	}
	c.cursors.RemoveSession(id)
	c.gauges.SessionClosed()
	c.log.Info("Session removed", "session_id", id, "room_code", h.roomCode)
}

// resolve finds a live session by internal ID or by room code.
func (c *Coordinator) resolve(identifier string) (*sessionHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if h, ok := c.sessions[domain.SessionID(identifier)]; ok {
		return h, nil
	}
	if id, ok := c.codes[strings.ToUpper(identifier)]; ok {
		return c.sessions[id], nil
	}
	return nil, seanceerrors.ErrSessionNotFound
}

// Join verifies credentials and adds the identity to the session. Password
// verification happens here, outside the serialization point, against the
// immutable hash captured at creation.
func (c *Coordinator) Join(ctx context.Context, identifier, password string, identity access.Identity) (domain.JoinResult, error) {
	h, err := c.resolve(identifier)
	if err != nil {
		return domain.JoinResult{}, err
	}

	if h.isPrivate {
		match, err := access.ComparePassword(password, h.passwordHash)
		if err != nil || !match {
			return domain.JoinResult{}, seanceerrors.ErrUnauthorized
		}
	}

	reply := make(chan domain.JoinResult, 1)
	cmd := domain.JoinCommand{
		SessionID:   h.id,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		At:          c.clock(),
		Reply:       reply,
	}
	if err := c.dispatch(ctx, h, cmd); err != nil {
		return domain.JoinResult{}, err
	}

	select {
	case res := <-reply:
		if res.Err != nil {
			return domain.JoinResult{}, res.Err
		}
		return res, nil
	case <-h.done:
		return domain.JoinResult{}, seanceerrors.ErrSessionNotFound
	case <-ctx.Done():
		return domain.JoinResult{}, ctx.Err()
	}
}

// Leave removes a participant. A client disconnect is routed through here
// asynchronously; it never blocks other participants or sessions.
func (c *Coordinator) Leave(ctx context.Context, sessionID domain.SessionID, userID, reason string) error {
	h, err := c.resolve(string(sessionID))
	if err != nil {
		return err
	}
	return c.dispatch(ctx, h, domain.LeaveCommand{SessionID: h.id, UserID: userID, Reason: reason})
}

// Heartbeat refreshes liveness. Fire-and-forget: heartbeats are cheap,
// idempotent and frequent, so one lost to a full mailbox is harmless.
func (c *Coordinator) Heartbeat(sessionID domain.SessionID, userID string) error {
	c.mu.RLock()
	h, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return seanceerrors.ErrSessionNotFound
	}

	cmd := domain.HeartbeatCommand{SessionID: h.id, UserID: userID, At: c.clock()}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return seanceerrors.ErrSessionNotFound
	default:
		return nil
	}
}

// UpdateState applies a batch of key writes under the session's
// serialization point and returns the assigned sequence numbers.
func (c *Coordinator) UpdateState(ctx context.Context, sessionID domain.SessionID, userID string,
	updates []domain.StateUpdate) (map[string]uint64, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: empty update", seanceerrors.ErrValidation)
	}
	for _, u := range updates {
		if strings.TrimSpace(u.Key) == "" {
			return nil, fmt.Errorf("%w: state key is required", seanceerrors.ErrValidation)
		}
	}

	h, err := c.resolve(string(sessionID))
	if err != nil {
		return nil, err
	}

	reply := make(chan domain.UpdateStateResult, 1)
	cmd := domain.UpdateStateCommand{
		SessionID: h.id,
		UserID:    userID,
		Updates:   updates,
		At:        c.clock(),
		Reply:     reply,
	}
	if err := c.dispatch(ctx, h, cmd); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res.Assigned, res.Err
	case <-h.done:
		return nil, seanceerrors.ErrSessionNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitEvent validates a domain event at the boundary, moderates free text,
// and routes the accepted payload through the session's serialization point.
func (c *Coordinator) SubmitEvent(ctx context.Context, sessionID domain.SessionID, userID,
	eventType string, raw json.RawMessage) (uint64, error) {
	payload, err := event.DecodePayload(eventType, raw)
	if err != nil {
		return 0, err
	}

	if interp, ok := payload.(event.InterpretationAdded); ok && c.moderator != nil {
		review := c.moderator.Review(interp.Text)
		interp.Text = review.Text
		interp.Language = review.Language
		payload = interp
		if review.Matches > 0 {
			c.log.Info("Censored interpretation",
				"session_id", sessionID, "user_id", userID, "spans", review.Matches)
		}
	}

	h, err := c.resolve(string(sessionID))
	if err != nil {
		return 0, err
	}

	reply := make(chan domain.SubmitEventResult, 1)
	cmd := domain.SubmitEventCommand{
		SessionID: h.id,
		UserID:    userID,
		Payload:   payload,
		At:        c.clock(),
		Reply:     reply,
	}
	if err := c.dispatch(ctx, h, cmd); err != nil {
		return 0, err
	}

	select {
	case res := <-reply:
		return res.Seq, res.Err
	case <-h.done:
		return 0, seanceerrors.ErrSessionNotFound
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// GetSnapshot returns the full shared state plus the current sequence
// counter. Late joiners and reconnecting clients bootstrap from this
// instead of replaying history.
func (c *Coordinator) GetSnapshot(ctx context.Context, identifier string) (domain.Snapshot, error) {
	h, err := c.resolve(identifier)
	if err != nil {
		return domain.Snapshot{}, err
	}

	reply := make(chan domain.SnapshotResult, 1)
	if err := c.dispatch(ctx, h, domain.SnapshotCommand{SessionID: h.id, Reply: reply}); err != nil {
		return domain.Snapshot{}, err
	}

	select {
	case res := <-reply:
		return res.Snapshot, res.Err
	case <-h.done:
		return domain.Snapshot{}, seanceerrors.ErrSessionNotFound
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}
}

// CloseSession ends a session for everyone. Only the current host (or the
// system itself, userID "") may close.
func (c *Coordinator) CloseSession(ctx context.Context, sessionID domain.SessionID, userID, reason string) error {
	h, err := c.resolve(string(sessionID))
	if err != nil {
		return err
	}
	if userID != "" && userID != h.host() {
		return seanceerrors.ErrUnauthorized
	}
	return c.dispatch(ctx, h, domain.CloseCommand{SessionID: h.id, Reason: reason})
}

// UpdateCursor stores and relays a pointer position. Rate-limited writes;
// rejected updates vanish silently because the next one supersedes them
// anyway. The relay rides the fanout but is dropped rather than queued when
// the engine is saturated.
func (c *Coordinator) UpdateCursor(sessionID domain.SessionID, userID string, x, y float64) error {
	c.mu.RLock()
	_, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return seanceerrors.ErrSessionNotFound
	}

	position, accepted := c.cursors.Update(sessionID, userID, x, y)
	if !accepted {
		return nil
	}

	select {
	case c.events <- event.CursorMoved{SessionID: sessionID, Cursor: position}:
	default:
		c.gauges.IncrDroppedCursor()
	}
	return nil
}

// CursorPositions exposes the live cursors of a session.
func (c *Coordinator) CursorPositions(sessionID domain.SessionID) []domain.CursorPosition {
	return c.cursors.Positions(sessionID)
}

// ListSessions lists live sessions, optionally narrowed by type and by a
// free-text title query answered from the search index.
func (c *Coordinator) ListSessions(filter ListFilter) ([]domain.Summary, error) {
	var allowed map[domain.SessionID]struct{}
	if filter.Query != "" {
		limit := filter.Limit
		if limit <= 0 {
			limit = 50
		}
		ids, err := c.index.Search(filter.Query, limit)
		if err != nil {
			return nil, err
		}
		allowed = make(map[domain.SessionID]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
	}

	c.mu.RLock()
	summaries := make([]domain.Summary, 0, len(c.sessions))
	for id, h := range c.sessions {
		if filter.Type != "" && h.kind != filter.Type {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		summaries = append(summaries, c.summary(h))
	}
	c.mu.RUnlock()

	if filter.Limit > 0 && len(summaries) > filter.Limit {
		summaries = summaries[:filter.Limit]
	}
	return summaries, nil
}

func (c *Coordinator) summary(h *sessionHandle) domain.Summary {
	status := domain.StatusCreated
	if h.participants.Load() > 0 {
		status = domain.StatusActive
	}
	return domain.Summary{
		ID:               h.id,
		Title:            h.title,
		Type:             h.kind,
		RoomCode:         h.roomCode,
		Status:           status.String(),
		IsPrivate:        h.isPrivate,
		ParticipantCount: int(h.participants.Load()),
		MaxParticipants:  h.maxParts,
		CreatedAt:        h.createdAt,
	}
}

// ActiveSessions enumerates live session IDs for the presence sweep.
func (c *Coordinator) ActiveSessions() []domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]domain.SessionID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// TryDispatch drops a command into a session mailbox without blocking.
func (c *Coordinator) TryDispatch(cmd domain.Command) error {
	c.mu.RLock()
	h, ok := c.sessions[cmd.Session()]
	c.mu.RUnlock()
	if !ok {
		return seanceerrors.ErrSessionNotFound
	}

	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return seanceerrors.ErrSessionNotFound
	default:
		return seanceerrors.ErrMailboxFull
	}
}

// dispatch blocks until the mailbox accepts the command, the session dies,
// or the caller gives up. Waiting here is the only suspension point a
// client request has: its own session's serialization point.
func (c *Coordinator) dispatch(ctx context.Context, h *sessionHandle, cmd domain.Command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return seanceerrors.ErrSessionNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *sessionHandle) host() string {
	host, _ := h.hostID.Load().(string)
	return host
}

// lifecycleSink keeps the coordinator's listing metadata (participant
// counts, current host) in step with the event stream, without the listing
// path ever touching a serialization point.
type lifecycleSink struct {
	c *Coordinator
}

func (s lifecycleSink) Consume(_ context.Context, e event.Event) error {
	s.c.mu.RLock()
	h, ok := s.c.sessions[e.Session()]
	s.c.mu.RUnlock()
	if !ok {
		return nil
	}

	switch evt := e.(type) {
	case event.ParticipantJoined:
		h.participants.Add(1)
	case event.ParticipantLeft:
		h.participants.Add(-1)
		if evt.NewHostID != "" {
			h.hostID.Store(evt.NewHostID)
		}
	}
	return nil
}
