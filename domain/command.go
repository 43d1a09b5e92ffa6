package domain

import (
	"encoding/json"
	"time"
)

// Command is one mutating operation addressed to a session's mailbox. The
// set of commands is closed: the session worker matches them explicitly and
// treats anything else as a programming error.
type Command interface {
	Session() SessionID
}

// CollabPayload is a validated domain-event payload. Implementations live in
// domain/event, one per accepted event type; the interface is what lets the
// session worker fold any of them into shared state without an open-ended
// dispatch.
type CollabPayload interface {
	// EventType returns the wire tag of the variant (e.g. "card_drawn").
	EventType() string
	// FoldKey returns the shared-state key the event folds into. The
	// assigned sequence number is available for variants that append
	// rather than overwrite.
	FoldKey(seq uint64) string
	// FoldValue returns the opaque value stored under FoldKey.
	FoldValue() (json.RawMessage, error)
}

// JoinCommand adds a verified identity to the session.
type JoinCommand struct {
	SessionID   SessionID
	UserID      string
	DisplayName string
	At          time.Time
	Reply       chan JoinResult
}

func (c JoinCommand) Session() SessionID { return c.SessionID }

type JoinResult struct {
	Participant Participant
	Snapshot    Snapshot
	Err         error
}

// LeaveCommand removes a participant. Reason distinguishes a deliberate
// leave from a presence timeout in the resulting broadcast.
type LeaveCommand struct {
	SessionID SessionID
	UserID    string
	Reason    string
}

func (c LeaveCommand) Session() SessionID { return c.SessionID }

// HeartbeatCommand refreshes a participant's liveness timestamp.
type HeartbeatCommand struct {
	SessionID SessionID
	UserID    string
	At        time.Time
}

func (c HeartbeatCommand) Session() SessionID { return c.SessionID }

// UpdateStateCommand applies a batch of key writes.
type UpdateStateCommand struct {
	SessionID SessionID
	UserID    string
	Updates   []StateUpdate
	At        time.Time
	Reply     chan UpdateStateResult
}

func (c UpdateStateCommand) Session() SessionID { return c.SessionID }

type UpdateStateResult struct {
	// Assigned maps each requested key to its authoritative sequence
	// number, retries included.
	Assigned map[string]uint64
	Err      error
}

// SubmitEventCommand routes an accepted, already-validated domain event.
type SubmitEventCommand struct {
	SessionID SessionID
	UserID    string
	Payload   CollabPayload
	At        time.Time
	Reply     chan SubmitEventResult
}

func (c SubmitEventCommand) Session() SessionID { return c.SessionID }

type SubmitEventResult struct {
	Seq uint64
	Err error
}

// SnapshotCommand reads a full copy of the session.
type SnapshotCommand struct {
	SessionID SessionID
	Reply     chan SnapshotResult
}

func (c SnapshotCommand) Session() SessionID { return c.SessionID }

type SnapshotResult struct {
	Snapshot Snapshot
	Err      error
}

// CloseCommand ends the session for everyone.
type CloseCommand struct {
	SessionID SessionID
	Reason    string
}

func (c CloseCommand) Session() SessionID { return c.SessionID }

// SweepCommand asks the worker to expel participants whose heartbeat is
// older than Deadline. Dispatched non-blocking by the presence tracker so a
// hung session cannot stall the sweep.
type SweepCommand struct {
	SessionID SessionID
	Deadline  time.Time
}

func (c SweepCommand) Session() SessionID { return c.SessionID }
