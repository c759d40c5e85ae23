package llm

import (
	"strings"
	"unicode"
)

var smallTalkPhrases = []string{
	"hi", "hello", "hey",
	"good morning", "good night",
	"thanks", "thank you",
	"ok", "okay",
	"i don't understand",
	"can you repeat",
	"help", "yes", "no",
}

// IsSmallTalk reports whether query is a short conversational message that
// needs no retrieval. Phrases match on word boundaries.
func IsSmallTalk(query string) bool {
	words := strings.FieldsFunc(normalizeTalk(query), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	padded := " " + strings.Join(words, " ") + " "
	for _, p := range smallTalkPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// SmallTalkResponse answers a small-talk message
func SmallTalkResponse(query string) string {
	q := normalizeTalk(query)
	switch {
	case strings.Contains(q, "good morning"):
		return "Good morning. How can I help you with the documents?"
	case strings.Contains(q, "good night"):
		return "Good night. You can ask me about the uploaded documents anytime."
	case strings.Contains(q, "thank"):
		return "You're welcome."
	case strings.Contains(q, "i don't understand"):
		return "No problem. Tell me what you want me to explain."
	case q == "ok" || q == "okay":
		return "Alright."
	}
	return "How can I help you with the documents?"
}

func normalizeTalk(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "’", "'")
	return strings.TrimRight(s, "!.?, ")
}
