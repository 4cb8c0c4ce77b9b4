package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/SteelMorgan/mc-bridge/internal/chatlog"
	"github.com/SteelMorgan/mc-bridge/internal/dedup"
	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/normalizer"
	"github.com/SteelMorgan/mc-bridge/internal/observability"
	"github.com/SteelMorgan/mc-bridge/internal/offset"
	"github.com/SteelMorgan/mc-bridge/internal/rcon"
	"github.com/SteelMorgan/mc-bridge/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Console runs one command on the game process
type Console interface {
	Command(ctx context.Context, command string) (string, error)
}

// Fetcher copies a remote file into local storage
type Fetcher interface {
	Get(ctx context.Context, remotePath, localPath string) (int64, error)
}

// Sink is the chat platform side of the bridge
type Sink interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
	// IsSelf reports whether authorID is the bridge's own identity on the platform
	IsSelf(authorID string) bool
}

// Archive stores relayed chat events for later search
type Archive interface {
	Archive(ctx context.Context, events []domain.ChatEvent) error
}

// RelayPolicy decides which chat channels relay into the game
type RelayPolicy interface {
	RelayEnabled(channelID string) bool
	ChannelName(channelID string) string
}

// Config holds log tail bridge settings
type Config struct {
	ChatEnabled   bool
	RemoteLogPath string
	ScratchDir    string
	// AvatarURLTemplate gets the username substituted for %s
	AvatarURLTemplate string
}

const defaultAvatarURL = "https://minotar.net/avatar/%s/100.png"

// Bridge relays chat between the game log / console and the chat sink.
// The log cursor and seen set are loaded and persisted inside Poll only,
// and Poll never runs concurrently with itself.
type Bridge struct {
	cfg        Config
	db         *store.DB
	console    Console
	files      Fetcher
	sink       Sink
	archive    Archive
	relay      RelayPolicy
	normalizer *normalizer.ChatNormalizer

	mu sync.Mutex
}

// Option configures optional collaborators
type Option func(*Bridge)

// WithConsole enables the liveness check and the inbound path
func WithConsole(c Console) Option {
	return func(b *Bridge) { b.console = c }
}

// WithFetcher sets the remote log transport
func WithFetcher(f Fetcher) Option {
	return func(b *Bridge) { b.files = f }
}

// WithSink sets the chat platform side
func WithSink(s Sink) Option {
	return func(b *Bridge) { b.sink = s }
}

// WithArchive stores delivered events
func WithArchive(a Archive) Option {
	return func(b *Bridge) { b.archive = a }
}

// WithRelayPolicy gates inbound relay per channel
func WithRelayPolicy(p RelayPolicy) Option {
	return func(b *Bridge) { b.relay = p }
}

// New creates a bridge. Collaborators left unset make the matching
// operations return domain.ErrNotConfigured.
func New(cfg Config, db *store.DB, opts ...Option) *Bridge {
	if cfg.AvatarURLTemplate == "" {
		cfg.AvatarURLTemplate = defaultAvatarURL
	}

	b := &Bridge{
		cfg:        cfg,
		db:         db,
		normalizer: normalizer.NewChatNormalizer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Batch is the result of one poll cycle, in log order
type Batch struct {
	events  []domain.ChatEvent
	Offset  uint64
	Rotated bool
}

// All yields the events oldest first
func (b Batch) All() iter.Seq[domain.ChatEvent] {
	return slices.Values(b.events)
}

// Len returns the number of events
func (b Batch) Len() int {
	return len(b.events)
}

// Tick runs one full cycle: poll, then deliver
func (b *Bridge) Tick(ctx context.Context) error {
	if b.sink == nil {
		return fmt.Errorf("chat sink: %w", domain.ErrNotConfigured)
	}

	batch, err := b.Poll(ctx)
	if err != nil {
		return err
	}

	b.Deliver(ctx, batch)
	return nil
}

// Poll fetches the remote log and returns chat events not relayed before.
// Cursor and seen set are persisted before Poll returns, so a crash after this
// point can only re-deliver the returned batch, never lose it.
func (b *Bridge) Poll(ctx context.Context) (batch Batch, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.ChatEnabled {
		return Batch{}, fmt.Errorf("chat relay: %w", domain.ErrDisabled)
	}
	if b.files == nil {
		return Batch{}, fmt.Errorf("remote file transfer: %w", domain.ErrNotConfigured)
	}

	cycleID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "bridge.poll",
		attribute.String("cycle_id", cycleID),
		attribute.String("remote_path", b.cfg.RemoteLogPath),
	)
	defer func() {
		observability.PollCycles.WithLabelValues(pollResult(err)).Inc()
		if errors.Is(err, domain.ErrNoPlayersOnline) {
			observability.EndSpan(span, nil)
			return
		}
		observability.EndSpan(span, err)
	}()

	if b.console != nil {
		count, _, err := rcon.PlayerCount(ctx, b.console)
		switch {
		case err != nil:
			// Liveness is an optimisation only; fall through to the transfer
			log.Debug().Err(err).Msg("Player count unavailable, polling anyway")
		case count == 0:
			return Batch{}, domain.ErrNoPlayersOnline
		}
	}

	scratch, err := os.CreateTemp(b.cfg.ScratchDir, "latest-*.log")
	if err != nil {
		return Batch{}, fmt.Errorf("failed to create scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	started := time.Now()
	size, err := b.files.Get(ctx, b.cfg.RemoteLogPath, scratchPath)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	log.Debug().
		Str("cycle_id", cycleID).
		Int64("bytes", size).
		Dur("duration", time.Since(started)).
		Msg("Remote log fetched")

	batch, err = b.scan(scratchPath, cycleID)
	if err != nil {
		return Batch{}, err
	}

	span.SetAttributes(
		attribute.Int("events", batch.Len()),
		attribute.Int64("offset", int64(batch.Offset)),
		attribute.Bool("rotated", batch.Rotated),
	)
	return batch, nil
}

// scan reads the local copy from the stored offset and persists the new state
func (b *Bridge) scan(path, cycleID string) (Batch, error) {
	source := b.cfg.RemoteLogPath

	cursor, err := offset.Load(b.db, source)
	if err != nil {
		return Batch{}, err
	}
	seen, err := dedup.Load(b.db, source)
	if err != nil {
		return Batch{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to open scratch file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Batch{}, fmt.Errorf("failed to stat scratch file: %w", err)
	}

	rotated := cursor.Reconcile(uint64(stat.Size()))
	if rotated {
		seen.Clear()
	}

	if _, err := f.Seek(int64(cursor.Offset()), io.SeekStart); err != nil {
		return Batch{}, fmt.Errorf("failed to seek to offset: %w", err)
	}

	var events []domain.ChatEvent
	duplicates := 0
	consumed, err := chatlog.Scan(f, func(event domain.ChatEvent) {
		if !seen.Mark(event.Fingerprint()) {
			duplicates++
			return
		}
		events = append(events, event)
	})
	if err != nil {
		return Batch{}, err
	}
	cursor.Advance(cursor.Offset() + consumed)

	err = b.db.Update(func(tx *store.Tx) error {
		if err := cursor.Persist(tx); err != nil {
			return err
		}
		return seen.Persist(tx)
	})
	if err != nil {
		return Batch{}, fmt.Errorf("failed to persist log state: %w", err)
	}

	observability.LogOffset.Set(float64(cursor.Offset()))

	if len(events) > 0 || duplicates > 0 || rotated {
		log.Info().
			Str("cycle_id", cycleID).
			Int("events", len(events)).
			Int("duplicates", duplicates).
			Uint64("offset", cursor.Offset()).
			Bool("rotated", rotated).
			Msg("Log scan complete")
	}

	return Batch{events: events, Offset: cursor.Offset(), Rotated: rotated}, nil
}

// Deliver sends every event to the sink in order and returns how many were accepted.
// Failures are logged; the cursor is never rolled back.
func (b *Bridge) Deliver(ctx context.Context, batch Batch) int {
	if batch.Len() == 0 || b.sink == nil {
		return 0
	}

	delivered := 0
	for event := range batch.All() {
		msg := domain.OutboundMessage{
			Username:  event.Username,
			Text:      b.normalizer.ForChat(event.Text),
			AvatarURL: fmt.Sprintf(b.cfg.AvatarURLTemplate, event.Username),
		}
		if msg.Text == "" {
			continue
		}

		if err := b.sink.Send(ctx, msg); err != nil {
			observability.ChatDeliveryFailures.Inc()
			log.Warn().
				Err(err).
				Str("username", event.Username).
				Str("timestamp", event.Timestamp).
				Msg("Failed to deliver chat event")
			continue
		}
		observability.ChatEventsRelayed.Inc()
		delivered++
	}

	if b.archive != nil {
		if err := b.archive.Archive(ctx, batch.events); err != nil {
			log.Warn().Err(err).Int("events", batch.Len()).Msg("Failed to archive chat events")
		}
	}

	return delivered
}

// HandleInbound relays a chat platform message into the game.
// Messages authored by the bridge itself are dropped to avoid echo loops.
func (b *Bridge) HandleInbound(ctx context.Context, msg domain.InboundMessage) error {
	if b.sink != nil && b.sink.IsSelf(msg.AuthorID) {
		observability.InboundRelayed.WithLabelValues("self").Inc()
		return nil
	}
	if !b.cfg.ChatEnabled || (b.relay != nil && !b.relay.RelayEnabled(msg.ChannelID)) {
		observability.InboundRelayed.WithLabelValues("ignored").Inc()
		return nil
	}
	if b.console == nil {
		return fmt.Errorf("remote console: %w", domain.ErrNotConfigured)
	}

	text := b.normalizer.ForConsole(msg.Text)
	if text == "" {
		observability.InboundRelayed.WithLabelValues("ignored").Inc()
		return nil
	}

	command, err := FormatBroadcast(b.normalizer.ForConsole(msg.AuthorName), text)
	if err != nil {
		return err
	}

	if _, err := b.console.Command(ctx, command); err != nil {
		observability.InboundRelayed.WithLabelValues("failed").Inc()
		log.Warn().
			Err(err).
			Str("author", msg.AuthorName).
			Str("channel", b.channelName(msg.ChannelID)).
			Msg("Failed to relay chat message to game")
		return err
	}

	observability.InboundRelayed.WithLabelValues("relayed").Inc()
	log.Debug().
		Str("author", msg.AuthorName).
		Str("channel", b.channelName(msg.ChannelID)).
		Int("command_bytes", len(command)).
		Msg("Chat message relayed to game")
	return nil
}

func (b *Bridge) channelName(channelID string) string {
	if b.relay == nil {
		return channelID
	}
	return b.relay.ChannelName(channelID)
}

// PlayerCount queries the online player count through the console
func (b *Bridge) PlayerCount(ctx context.Context) (int, string, error) {
	if b.console == nil {
		return 0, "", fmt.Errorf("remote console: %w", domain.ErrNotConfigured)
	}
	return rcon.PlayerCount(ctx, b.console)
}

// maxCommandBytes is the longest command the remote console accepts
const maxCommandBytes = 1446

const ellipsis = "…"

// FormatBroadcast builds the console command that shows a chat line to every player.
// The encoded command is cut to maxCommandBytes, text first, then author.
func FormatBroadcast(author, text string) (string, error) {
	command, err := encodeBroadcast(author, text)
	if err != nil {
		return "", err
	}

	body := text
	for len(command) > maxCommandBytes && body != "" {
		body = trimTail(body, len(command)-maxCommandBytes+len(ellipsis))
		if command, err = encodeBroadcast(author, body+ellipsis); err != nil {
			return "", err
		}
	}
	for len(command) > maxCommandBytes && author != "" {
		author = trimTail(author, len(command)-maxCommandBytes)
		if command, err = encodeBroadcast(author, ellipsis); err != nil {
			return "", err
		}
	}

	return command, nil
}

func encodeBroadcast(author, text string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	component := map[string]string{"text": fmt.Sprintf("[DISCORD] <%s> %s", author, text)}
	if err := enc.Encode(component); err != nil {
		return "", fmt.Errorf("failed to encode chat component: %w", err)
	}

	return "tellraw @a " + strings.TrimSpace(buf.String()), nil
}

// trimTail drops at least n bytes from the end of s, on a rune boundary
func trimTail(s string, n int) string {
	cut := len(s) - n
	if cut <= 0 {
		return ""
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func pollResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoPlayersOnline):
		return "no_players"
	case errors.Is(err, domain.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, domain.ErrDisabled):
		return "skipped"
	default:
		return "error"
	}
}
