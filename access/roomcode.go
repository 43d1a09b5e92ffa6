// Package access holds join-side concerns: room codes, session passwords,
// identity extraction and media capability tokens. It owns no session state;
// the coordinator asks it questions.
package access

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits 0/O, 1/I/L so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const DefaultRoomCodeLength = 6

// GenerateRoomCode produces a short human-shareable code. Uniqueness among
// active sessions is the caller's responsibility (checked under the
// coordinator's lock, regenerated on collision).
func GenerateRoomCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultRoomCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room code entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
