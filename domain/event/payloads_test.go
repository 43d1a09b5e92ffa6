package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	seanceerrors "seance/errors"
)

func TestDecodePayload_CardDrawn_Valid(t *testing.T) {
	req := require.New(t)

	payload, err := DecodePayload(TypeCardDrawn, json.RawMessage(
		`{"card":"the-moon","position":3,"reversed":true}`))

	req.NoError(err)
	card, ok := payload.(CardDrawn)
	req.True(ok)
	req.Equal("the-moon", card.Card)
	req.True(card.Reversed)
	req.Equal("card:3", card.FoldKey(0))
}

func TestDecodePayload_Unknown_Type_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload("seance_summon", json.RawMessage(`{}`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestDecodePayload_Unknown_Field_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload(TypeCardDrawn, json.RawMessage(
		`{"card":"the-moon","position":3,"sneaky":true}`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestDecodePayload_Position_Out_Of_Deck_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload(TypeCardDrawn, json.RawMessage(
		`{"card":"the-moon","position":78}`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestDecodePayload_Interpretation_Text_Required(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload(TypeInterpretationAdded, json.RawMessage(
		`{"card_key":"card:3","text":""}`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestDecodePayload_Stroke_Valid_And_Appends_By_Seq(t *testing.T) {
	req := require.New(t)

	payload, err := DecodePayload(TypeStrokeAdded, json.RawMessage(
		`{"points":[{"x":0.1,"y":0.2},{"x":0.3,"y":0.4}],"color":"#ffcc00","width":2.5}`))

	req.NoError(err)
	stroke, ok := payload.(StrokeAdded)
	req.True(ok)
	req.Len(stroke.Points, 2)
	// Distinct sequence numbers land on distinct keys: strokes accumulate
	req.NotEqual(stroke.FoldKey(7), stroke.FoldKey(8))
}

func TestDecodePayload_Stroke_Bad_Color_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload(TypeStrokeAdded, json.RawMessage(
		`{"points":[{"x":0,"y":0}],"color":"chartreuse","width":1}`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestDecodePayload_NumberRevealed_Folds_Per_Target(t *testing.T) {
	req := require.New(t)

	payload, err := DecodePayload(TypeNumberRevealed, json.RawMessage(
		`{"target":"Luna","number":7,"meaning":"the seeker"}`))

	req.NoError(err)
	number, ok := payload.(NumberRevealed)
	req.True(ok)
	// Same target always folds onto the same key so recomputations overwrite
	req.Equal("number:Luna", number.FoldKey(3))
	req.Equal("number:Luna", number.FoldKey(9))
}

func TestDecodePayload_Malformed_JSON_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := DecodePayload(TypeSpreadCompleted, json.RawMessage(`{"spread":`))

	req.ErrorIs(err, seanceerrors.ErrValidation)
}

func TestFoldValue_Round_Trips_The_Payload(t *testing.T) {
	req := require.New(t)
	card := CardDrawn{Card: "the-sun", Position: 0}

	value, err := card.FoldValue()

	req.NoError(err)
	var decoded CardDrawn
	req.NoError(json.Unmarshal(value, &decoded))
	req.Equal(card, decoded)
}
