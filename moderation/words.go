package moderation

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"

	seanceerrors "seance/errors"
)

//go:embed wordlist
var wordlistFS embed.FS

// LoadBlockedWords reads the embedded default word list: one word per line,
// '#' starts a comment.
func LoadBlockedWords() ([]string, error) {
	var words []string
	err := fs.WalkDir(wordlistFS, "wordlist", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		f, err := wordlistFS.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			words = append(words, line)
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, seanceerrors.ErrEmptyWords
	}
	return words, nil
}
