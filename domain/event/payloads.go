package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"seance/domain"
	seanceerrors "seance/errors"
)

// Wire tags of the accepted domain-event variants. Anything else is rejected
// at the boundary.
const (
	TypeCardDrawn           = "card_drawn"
	TypeInterpretationAdded = "interpretation_added"
	TypeSpreadCompleted     = "spread_completed"
	TypeStrokeAdded         = "stroke_added"
	TypeNumberRevealed      = "number_revealed"
)

var validate = validator.New()

// CardDrawn flips a card into a spread position.
type CardDrawn struct {
	Card     string `json:"card" validate:"required,max=64"`
	Position int    `json:"position" validate:"gte=0,lte=77"`
	Reversed bool   `json:"reversed"`
}

func (CardDrawn) EventType() string { return TypeCardDrawn }

func (p CardDrawn) FoldKey(uint64) string { return fmt.Sprintf("card:%d", p.Position) }

func (p CardDrawn) FoldValue() (json.RawMessage, error) { return json.Marshal(p) }

// InterpretationAdded attaches a reading to a drawn card. Text passes the
// moderation censor before the event is accepted; Language is the detected
// language code stamped by the same pass.
type InterpretationAdded struct {
	CardKey  string `json:"card_key" validate:"required,max=64"`
	Text     string `json:"text" validate:"required,max=2000"`
	Language string `json:"language,omitempty" validate:"omitempty,max=8"`
}

func (InterpretationAdded) EventType() string { return TypeInterpretationAdded }

func (p InterpretationAdded) FoldKey(seq uint64) string {
	return fmt.Sprintf("interpretation:%019d", seq)
}

func (p InterpretationAdded) FoldValue() (json.RawMessage, error) { return json.Marshal(p) }

// SpreadCompleted marks the whole spread as final.
type SpreadCompleted struct {
	Spread string `json:"spread" validate:"required,max=64"`
}

func (SpreadCompleted) EventType() string { return TypeSpreadCompleted }

func (p SpreadCompleted) FoldKey(uint64) string { return "spread" }

func (p SpreadCompleted) FoldValue() (json.RawMessage, error) { return json.Marshal(p) }

// Point is one vertex of a canvas stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StrokeAdded appends a stroke to a synchronized canvas.
type StrokeAdded struct {
	Points []Point `json:"points" validate:"required,min=1,max=2048"`
	Color  string  `json:"color" validate:"required,hexcolor"`
	Width  float64 `json:"width" validate:"gt=0,lte=64"`
}

func (StrokeAdded) EventType() string { return TypeStrokeAdded }

func (p StrokeAdded) FoldKey(seq uint64) string { return fmt.Sprintf("stroke:%019d", seq) }

func (p StrokeAdded) FoldValue() (json.RawMessage, error) { return json.Marshal(p) }

// NumberRevealed publishes a numerology result for a target (a name, a birth
// date, a question).
type NumberRevealed struct {
	Target  string `json:"target" validate:"required,max=128"`
	Number  int    `json:"number" validate:"gte=0,lte=99"`
	Meaning string `json:"meaning,omitempty" validate:"omitempty,max=2000"`
}

func (NumberRevealed) EventType() string { return TypeNumberRevealed }

func (p NumberRevealed) FoldKey(uint64) string { return fmt.Sprintf("number:%s", p.Target) }

func (p NumberRevealed) FoldValue() (json.RawMessage, error) { return json.Marshal(p) }

// DecodePayload turns a wire payload into its validated variant. Unknown
// tags, malformed JSON, unknown fields and shape violations all come back as
// ErrValidation so the boundary can answer the client without touching the
// session.
func DecodePayload(eventType string, raw json.RawMessage) (domain.CollabPayload, error) {
	var payload domain.CollabPayload
	switch eventType {
	case TypeCardDrawn:
		payload = &CardDrawn{}
	case TypeInterpretationAdded:
		payload = &InterpretationAdded{}
	case TypeSpreadCompleted:
		payload = &SpreadCompleted{}
	case TypeStrokeAdded:
		payload = &StrokeAdded{}
	case TypeNumberRevealed:
		payload = &NumberRevealed{}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", seanceerrors.ErrValidation, eventType)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(payload); err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", seanceerrors.ErrValidation, eventType, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload: %v", seanceerrors.ErrValidation, eventType, err)
	}
	return deref(payload), nil
}

// deref returns the value form so payloads compare and marshal uniformly.
func deref(p domain.CollabPayload) domain.CollabPayload {
	switch v := p.(type) {
	case *CardDrawn:
		return *v
	case *InterpretationAdded:
		return *v
	case *SpreadCompleted:
		return *v
	case *StrokeAdded:
		return *v
	case *NumberRevealed:
		return *v
	default:
		return p
	}
}
