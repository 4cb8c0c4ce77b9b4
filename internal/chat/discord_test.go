package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/bwmarrin/discordgo"
)

type fakeSender struct {
	webhookID string
	token     string
	webhook   *discordgo.WebhookParams
	channelID string
	message   *discordgo.MessageSend
	err       error
}

func (f *fakeSender) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.webhookID, f.token, f.webhook = webhookID, token, data
	return nil, f.err
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID, f.message = channelID, data
	return nil, f.err
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantID    string
		wantToken string
		wantErr   bool
	}{
		{name: "discord.com", raw: "https://discord.com/api/webhooks/123/abc-DEF", wantID: "123", wantToken: "abc-DEF"},
		{name: "versioned api", raw: "https://discord.com/api/v10/webhooks/456/tok", wantID: "456", wantToken: "tok"},
		{name: "trailing slash", raw: "https://discordapp.com/api/webhooks/7/t/", wantID: "7", wantToken: "t"},
		{name: "missing token", raw: "https://discord.com/api/webhooks/123", wantErr: true},
		{name: "not a webhook", raw: "https://example.com/hooks/1/2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, token, err := ParseWebhookURL(tt.raw)
			if tt.wantErr {
				var pe *domain.ParseError
				if !errors.As(err, &pe) {
					t.Errorf("expected ParseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID || token != tt.wantToken {
				t.Errorf("expected %s/%s, got %s/%s", tt.wantID, tt.wantToken, id, token)
			}
		})
	}
}

func TestSendWebhookMode(t *testing.T) {
	d, err := NewDiscord(Config{Token: "x", UseWebhook: true, WebhookURL: "https://discord.com/api/webhooks/99/secret"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	fs := &fakeSender{}
	d.sender = fs

	msg := domain.OutboundMessage{Username: "Steve", Text: "hello", AvatarURL: "https://minotar.net/avatar/Steve/100.png"}
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fs.webhookID != "99" || fs.token != "secret" {
		t.Errorf("unexpected webhook target %s/%s", fs.webhookID, fs.token)
	}
	if fs.webhook.Username != "Steve" || fs.webhook.Content != "hello" || fs.webhook.AvatarURL != msg.AvatarURL {
		t.Errorf("unexpected params %+v", fs.webhook)
	}
	if fs.webhook.AllowedMentions == nil || len(fs.webhook.AllowedMentions.Parse) != 0 {
		t.Errorf("expected mentions to be suppressed")
	}
}

func TestSendChannelMode(t *testing.T) {
	d, err := NewDiscord(Config{Token: "x", ChannelID: "555"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	fs := &fakeSender{}
	d.sender = fs

	if err := d.Send(context.Background(), domain.OutboundMessage{Username: "Alex", Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fs.channelID != "555" || fs.message.Content != "Alex: hi" {
		t.Errorf("unexpected channel send %s %q", fs.channelID, fs.message.Content)
	}

	fs.err = errors.New("429")
	err = d.Send(context.Background(), domain.OutboundMessage{Username: "Alex", Text: "hi"})
	if !domain.IsTransport(err) {
		t.Errorf("expected TransportError, got %v", err)
	}
}

func TestIsSelf(t *testing.T) {
	d, err := NewDiscord(Config{Token: "x", UseWebhook: true, WebhookURL: "https://discord.com/api/webhooks/99/secret"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	d.botUserID = "42"

	tests := []struct {
		authorID string
		want     bool
	}{
		{"99", true},
		{"42", true},
		{"7", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := d.IsSelf(tt.authorID); got != tt.want {
			t.Errorf("IsSelf(%q) = %v, want %v", tt.authorID, got, tt.want)
		}
	}
}

func TestInboundFrom(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "100",
		Content:   "hi",
		Author:    &discordgo.User{ID: "1", Username: "bob"},
		Member:    &discordgo.Member{Nick: "Bobby"},
	}}

	msg, ok := inboundFrom(m)
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	want := domain.InboundMessage{AuthorID: "1", AuthorName: "Bobby", ChannelID: "100", Text: "hi"}
	if msg != want {
		t.Errorf("expected %+v, got %+v", want, msg)
	}

	m.WebhookID = "99"
	if msg, _ := inboundFrom(m); msg.AuthorID != "99" {
		t.Errorf("expected webhook ID as author, got %s", msg.AuthorID)
	}

	if _, ok := inboundFrom(&discordgo.MessageCreate{Message: &discordgo.Message{Content: "x"}}); ok {
		t.Error("expected message without author to be dropped")
	}
}

func TestNewDiscordRejectsBadWebhook(t *testing.T) {
	if _, err := NewDiscord(Config{Token: "x", UseWebhook: true, WebhookURL: "nope"}); err == nil {
		t.Error("expected error for invalid webhook URL")
	}
}
