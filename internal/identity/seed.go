package identity

import (
	"sort"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// SuggestWord returns every wordlist entry starting with prefix, useful
// for a CLI/UI layer entering a recovery phrase word by word.
func SuggestWord(prefix string) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	var matches []string
	for _, w := range bip39.GetWordList() {
		if strings.HasPrefix(w, prefix) {
			matches = append(matches, w)
		}
	}
	sort.Strings(matches)
	return matches
}
