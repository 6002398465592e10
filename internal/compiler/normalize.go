package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// requestPrefixes are stripped from requirement texts to get the imperative form.
var requestPrefixes = []string{
	"please",
	"kindly",
	"can you",
	"could you",
	"would you",
	"i need you to",
	"i want you to",
	"i would like you to",
	"i'd like you to",
	"we need you to",
	"we want you to",
	"you need to",
	"you should",
	"you must",
	"you will",
	"the script should",
	"the script must",
	"the output should",
	"it should",
	"it must",
	"should",
	"must",
	"need to",
	"needs to",
}

// normalizeRequirement rewrites a requirement into a single imperative sentence.
func normalizeRequirement(text string) string {
	s := strings.Join(strings.Fields(text), " ")

	for stripped := true; stripped; {
		stripped = false
		for _, p := range requestPrefixes {
			// Folding on the original keeps byte offsets valid, lowering may change them.
			if len(s) < len(p) || !strings.EqualFold(s[:len(p)], p) {
				continue
			}
			rest := s[len(p):]
			// Only whole words.
			if rest != "" && rest[0] != ' ' && rest[0] != ',' && rest[0] != ':' {
				continue
			}
			s = strings.TrimLeft(rest, " ,:")
			stripped = true
			break
		}
	}

	s = strings.TrimRight(s, " ?!.;,:")
	if s == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:] + "."
}

const contextLimit = 500

// truncateContext cuts the description to the brief context limit.
func truncateContext(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= contextLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:contextLimit]) + "..."
}
