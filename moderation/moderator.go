// Package moderation screens free-text interpretation payloads before they
// are folded into shared session state. Matching is Aho-Corasick over a
// normalized form of the text, so spaced-out or leet-speak variants of a
// blocked word are still caught.
package moderation

import (
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

type Moderator struct {
	matcher      *goahocorasick.Machine
	censoredChar rune
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// Review is the outcome of screening one text.
type Review struct {
	Text     string // censored form, safe to fold into shared state
	Matches  int    // number of blocked spans replaced
	Language string // ISO 639-1 code of the detected language, "" if unknown
}

// NewModerator initializes the Aho-Corasick automaton with a normalized
// version of the provided blocked words list.
func NewModerator(blockedWords []string, censoredChar rune) (Moderator, error) {
	patterns := make([][]rune, len(blockedWords))
	for i, word := range blockedWords {
		patterns[i] = normalizeRunes([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{matcher: m, censoredChar: censoredChar}, nil
}

// Review censors blocked spans in the text and detects its language. The
// original spacing is preserved; only matched characters are replaced.
func (m *Moderator) Review(original string) Review {
	info := whatlanggo.Detect(original)

	review := Review{
		Text:     m.censor(original),
		Language: info.Lang.Iso6391(),
	}
	if review.Text != original {
		review.Matches = countDiff(original, review.Text)
	}
	return review
}

func (m *Moderator) censor(original string) string {
	mapping := m.normalize(original)
	if len(mapping.normalized) == 0 {
		return original
	}

	origRunes := []rune(original)
	spans := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return original
	}

	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)

		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		origStart := mapping.origIdx[normStart]
		lastCharOrigIdx := mapping.origIdx[normEnd-1]
		origEnd := lastCharOrigIdx + 1

		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.censoredChar
		}
	}

	return string(origRunes)
}

// normalize transforms the input into a searchable form and tracks original
// rune positions so matched spans can be mapped back.
func (m *Moderator) normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet-speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during the matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

func countDiff(a, b string) int {
	ar, br := []rune(a), []rune(b)
	count := 0
	inSpan := false
	for i := range ar {
		if i < len(br) && ar[i] != br[i] {
			if !inSpan {
				count++
				inSpan = true
			}
		} else {
			inSpan = false
		}
	}
	return count
}
