package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ChatEvent represents a single chat line taken from the game server log
type ChatEvent struct {
	Timestamp string // Wall clock of day as written in the log (HH:MM:SS)
	Username  string
	Text      string
}

// Fingerprint returns a stable hex digest over timestamp, author and text.
// Used for deduplication only, never for ordering.
func (e ChatEvent) Fingerprint() string {
	h := blake3.New()

	fmt.Fprintf(h, "%s|", e.Timestamp)
	fmt.Fprintf(h, "%s|", e.Username)
	fmt.Fprintf(h, "%s", e.Text)

	return hex.EncodeToString(h.Sum(nil))
}

// OutboundMessage is a game chat line prepared for the chat platform
type OutboundMessage struct {
	Username  string
	Text      string
	AvatarURL string
}

// InboundMessage is a chat platform message that may be relayed into the game
type InboundMessage struct {
	AuthorID   string
	AuthorName string
	ChannelID  string
	Text       string
}
