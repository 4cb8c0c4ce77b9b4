package chatlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
)

// linePattern is the fixed chat grammar: [HH:MM:SS] [<any>]: <username> <message>
var linePattern = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\] \[.*?\]: <(\w+)> (.*)$`)

// ParseLine extracts a chat event from one log line.
// Lines outside the grammar (startup noise, joins, commands) return false.
func ParseLine(line string) (domain.ChatEvent, bool) {
	line = strings.TrimRight(line, "\r\n")

	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return domain.ChatEvent{}, false
	}

	return domain.ChatEvent{
		Timestamp: m[1],
		Username:  m[2],
		Text:      m[3],
	}, true
}

// Scan reads r to EOF line by line and calls fn for every chat event.
// Returns the number of bytes consumed.
func Scan(r io.Reader, fn func(domain.ChatEvent)) (uint64, error) {
	br := bufio.NewReader(r)
	var consumed uint64

	for {
		line, err := br.ReadString('\n')
		consumed += uint64(len(line))

		if len(line) > 0 {
			if event, ok := ParseLine(line); ok {
				fn(event)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("failed to read log: %w", err)
		}
	}
}
