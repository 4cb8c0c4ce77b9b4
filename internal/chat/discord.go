package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config holds chat platform settings
type Config struct {
	Token      string
	ChannelID  string
	WebhookURL string
	// UseWebhook posts as the game player (name and avatar) instead of as the bot
	UseWebhook bool
}

// InboundHandler receives user messages from the chat platform
type InboundHandler func(ctx context.Context, msg domain.InboundMessage)

// sender is the part of *discordgo.Session used for delivery
type sender interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord relays chat through a bot session, optionally posting via webhook
type Discord struct {
	cfg          Config
	session      *discordgo.Session
	sender       sender
	webhookID    string
	webhookToken string
	limiter      *rate.Limiter

	mu        sync.RWMutex
	botUserID string
}

// NewDiscord validates cfg and prepares a session without connecting
func NewDiscord(cfg Config) (*Discord, error) {
	d := &Discord{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 5),
	}

	if cfg.UseWebhook {
		id, token, err := ParseWebhookURL(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		d.webhookID, d.webhookToken = id, token
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	d.session = session
	d.sender = session

	return d, nil
}

// Open connects the gateway and routes user messages to handler
func (d *Discord) Open(handler InboundHandler) error {
	d.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.mu.Lock()
		d.botUserID = r.User.ID
		d.mu.Unlock()
		log.Info().Str("user", r.User.Username).Msg("Discord session ready")
	})

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := inboundFrom(m)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		handler(ctx, msg)
	})

	if err := d.session.Open(); err != nil {
		return &domain.TransportError{Op: "discord open", Err: err}
	}
	return nil
}

// Send posts one outbound chat line, waiting for the local rate limit first
func (d *Discord) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	// Game chat must never ping anyone
	noMentions := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}

	var err error
	if d.cfg.UseWebhook {
		_, err = d.sender.WebhookExecute(d.webhookID, d.webhookToken, false, &discordgo.WebhookParams{
			Content:         msg.Text,
			Username:        msg.Username,
			AvatarURL:       msg.AvatarURL,
			AllowedMentions: noMentions,
		}, discordgo.WithContext(ctx))
	} else {
		_, err = d.sender.ChannelMessageSendComplex(d.cfg.ChannelID, &discordgo.MessageSend{
			Content:         FormatChannelLine(msg),
			AllowedMentions: noMentions,
		}, discordgo.WithContext(ctx))
	}
	if err != nil {
		return &domain.TransportError{Op: "discord send", Err: err}
	}
	return nil
}

// IsSelf reports whether authorID is the bot user or the relay webhook
func (d *Discord) IsSelf(authorID string) bool {
	if authorID == "" {
		return false
	}
	if d.webhookID != "" && authorID == d.webhookID {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.botUserID != "" && authorID == d.botUserID
}

// Close disconnects the gateway
func (d *Discord) Close() error {
	return d.session.Close()
}

// FormatChannelLine renders a game chat line for plain channel mode
func FormatChannelLine(msg domain.OutboundMessage) string {
	return fmt.Sprintf("%s: %s", msg.Username, msg.Text)
}

// ParseWebhookURL extracts the ID and token from
// https://discord.com/api/webhooks/{id}/{token}
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", &domain.ParseError{Source: "webhook url", Err: err}
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", &domain.ParseError{Source: "webhook url", Err: fmt.Errorf("no webhook id/token in %q", u.Path)}
}

func inboundFrom(m *discordgo.MessageCreate) (domain.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Content == "" {
		return domain.InboundMessage{}, false
	}

	authorID := m.Author.ID
	if m.WebhookID != "" {
		authorID = m.WebhookID
	}

	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}

	return domain.InboundMessage{
		AuthorID:   authorID,
		AuthorName: name,
		ChannelID:  m.ChannelID,
		Text:       m.Content,
	}, true
}
