package normalizer

import (
	"regexp"
	"strings"
	"unicode"
)

// maxConsoleRunes caps text relayed into the game (vanilla chat limit)
const maxConsoleRunes = 256

// ChatNormalizer cleans chat text crossing between the game and the chat platform
type ChatNormalizer struct {
	// Compiled regex patterns for normalization
	formatCodePattern  *regexp.Regexp
	massMentionPattern *regexp.Regexp
	whitespacePattern  *regexp.Regexp
}

// NewChatNormalizer creates a new chat normalizer with compiled patterns
func NewChatNormalizer() *ChatNormalizer {
	return &ChatNormalizer{
		// Section-sign formatting codes: §a, §l, §r ...
		formatCodePattern: regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`),

		// @everyone / @here pings
		massMentionPattern: regexp.MustCompile(`@(everyone|here)`),

		// Runs of whitespace including newlines
		whitespacePattern: regexp.MustCompile(`\s+`),
	}
}

// ForChat prepares a game chat line for the chat platform.
// Formatting codes are stripped and mass mentions defused.
func (n *ChatNormalizer) ForChat(text string) string {
	if text == "" {
		return ""
	}

	normalized := strings.ToValidUTF8(text, "")
	normalized = n.formatCodePattern.ReplaceAllString(normalized, "")

	// Zero-width space after @ keeps the text readable without pinging
	normalized = n.massMentionPattern.ReplaceAllString(normalized, "@\u200b$1")

	return strings.TrimSpace(normalized)
}

// ForConsole prepares chat platform text for a single console command.
// Newlines collapse to spaces, control characters are dropped and the
// result is capped at maxConsoleRunes.
func (n *ChatNormalizer) ForConsole(text string) string {
	if text == "" {
		return ""
	}

	normalized := strings.ToValidUTF8(text, "")
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '§' {
			return -1
		}
		return r
	}, normalized)
	normalized = strings.TrimSpace(normalized)

	runes := []rune(normalized)
	if len(runes) > maxConsoleRunes {
		normalized = string(runes[:maxConsoleRunes-1]) + "…"
	}

	return normalized
}
