package history

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTitleLength = 60
	fallbackTitle  = "Untitled run"
)

// Prefixes commonly padding a task description. Longest forms first so
// "could you please" wins over "could you".
var titlePrefixes = []string{
	"could you please",
	"can you please",
	"would you please",
	"could you",
	"can you",
	"would you",
	"please",
	"i want you to",
	"i want to",
	"i need you to",
	"i need to",
	"i would like to",
	"help me to",
	"help me",
	"let's",
	"lets",
}

// ExtractTitle derives a short display title from a task description.
// It strips question/verb padding, collapses whitespace, and truncates
// at a word boundary. Returns a generic label when nothing usable
// remains. Best-effort text processing, not a correctness path.
func ExtractTitle(task string) string {
	s := strings.Join(strings.Fields(task), " ")
	if s == "" {
		return fallbackTitle
	}

	s = strings.Trim(s, " ?.!,:")
	lower := strings.ToLower(s)
	for changed := true; changed; {
		changed = false
		for _, prefix := range titlePrefixes {
			if lower == prefix {
				return fallbackTitle
			}
			if strings.HasPrefix(lower, prefix+" ") {
				s = strings.Trim(s[len(prefix)+1:], " ?.!,:")
				lower = strings.ToLower(s)
				changed = true
				break
			}
		}
	}
	if s == "" {
		return fallbackTitle
	}

	if len(s) > maxTitleLength {
		// Back off to a rune boundary so the cut never produces
		// invalid UTF-8.
		end := maxTitleLength
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		cut := s[:end]
		if idx := strings.LastIndexByte(cut, ' '); idx > maxTitleLength/2 {
			cut = cut[:idx]
		}
		s = strings.TrimRight(cut, " ,") + "..."
	}

	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
