package rcon

import (
	"context"
	"errors"
	"testing"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
)

func TestParsePlayerCount(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{name: "vanilla format", reply: "There are 3 of a max of 20 players online: Steve, Alex, Bob", want: 3},
		{name: "nobody online", reply: "There are 0 of a max of 20 players online:", want: 0},
		{name: "paper format", reply: "There are 12 out of maximum 50 players online.", want: 12},
		{name: "no number", reply: "Unknown command", wantErr: true},
		{name: "empty reply", reply: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlayerCount(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlayerCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
			var pe *domain.ParseError
			if tt.wantErr && !errors.As(err, &pe) {
				t.Errorf("expected ParseError, got %T", err)
			}
		})
	}
}

type stubCommander struct {
	reply string
	err   error
	got   string
}

func (s *stubCommander) Command(_ context.Context, command string) (string, error) {
	s.got = command
	return s.reply, s.err
}

func TestPlayerCount(t *testing.T) {
	stub := &stubCommander{reply: "There are 2 of a max of 20 players online: Steve, Alex"}

	count, reply, err := PlayerCount(context.Background(), stub)
	if err != nil {
		t.Fatalf("PlayerCount() error = %v", err)
	}
	if stub.got != "list" {
		t.Errorf("expected list command, got %q", stub.got)
	}
	if count != 2 || reply != stub.reply {
		t.Errorf("unexpected result %d %q", count, reply)
	}
}

func TestCommandUnreachable(t *testing.T) {
	console := NewConsole(Config{Host: "127.0.0.1", Port: 1, Password: "x"})

	_, err := console.Command(context.Background(), "list")
	if !domain.IsTransport(err) {
		t.Errorf("expected TransportError, got %v", err)
	}
}
