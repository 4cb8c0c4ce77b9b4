package rcon

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/gorcon/rcon"
	"github.com/rs/zerolog/log"
)

// Config holds remote console connection settings
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Console sends single commands to the game process.
// Every call opens its own connection and closes it afterwards, so
// concurrent callers never share a session.
type Console struct {
	cfg Config
}

// NewConsole creates a remote console client
func NewConsole(cfg Config) *Console {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Console{cfg: cfg}
}

// Command connects, issues command, returns the reply and disconnects
func (c *Console) Command(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := rcon.Dial(addr, c.cfg.Password,
		rcon.SetDialTimeout(timeout),
		rcon.SetDeadline(timeout),
	)
	if err != nil {
		return "", &domain.TransportError{Op: "rcon dial", Err: err}
	}
	defer conn.Close()

	reply, err := conn.Execute(command)
	if err != nil {
		return "", &domain.TransportError{Op: "rcon execute", Err: err}
	}

	log.Debug().
		Str("addr", addr).
		Int("reply_len", len(reply)).
		Msg("RCON command executed")

	return reply, nil
}

var firstNumber = regexp.MustCompile(`\d+`)

// ParsePlayerCount reads the online player count from a "list" reply,
// e.g. "There are 3 of a max of 20 players online: ..."
func ParsePlayerCount(reply string) (int, error) {
	m := firstNumber.FindString(reply)
	if m == "" {
		return 0, &domain.ParseError{Source: "player list", Err: fmt.Errorf("no number in %q", reply)}
	}

	count, err := strconv.Atoi(m)
	if err != nil {
		return 0, &domain.ParseError{Source: "player list", Err: err}
	}
	return count, nil
}

// Commander is anything that can run a console command
type Commander interface {
	Command(ctx context.Context, command string) (string, error)
}

// PlayerCount runs "list" and parses the count. The raw reply is returned too.
func PlayerCount(ctx context.Context, c Commander) (int, string, error) {
	reply, err := c.Command(ctx, "list")
	if err != nil {
		return 0, "", err
	}

	count, err := ParsePlayerCount(reply)
	if err != nil {
		return 0, reply, err
	}
	return count, reply, nil
}
