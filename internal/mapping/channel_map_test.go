package mapping

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewChannelMap(t *testing.T) {
	cm := NewChannelMap("111")

	if !cm.RelayEnabled("111") {
		t.Errorf("expected default channel to relay")
	}
	if cm.RelayEnabled("222") {
		t.Errorf("expected unknown channel not to relay")
	}

	if NewChannelMap("").RelayEnabled("") {
		t.Errorf("expected empty map to relay nothing")
	}
}

func TestLoadChannelMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel_map.yaml")
	content := `channels:
  "222":
    name: mc-chat
    relay: true
  "333":
    name: announcements
    relay: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cm, err := LoadChannelMap(path, "111")
	if err != nil {
		t.Fatalf("LoadChannelMap() error = %v", err)
	}

	tests := []struct {
		channel string
		want    bool
	}{
		{channel: "111", want: true},
		{channel: "222", want: true},
		{channel: "333", want: false},
		{channel: "444", want: false},
	}
	for _, tt := range tests {
		if got := cm.RelayEnabled(tt.channel); got != tt.want {
			t.Errorf("RelayEnabled(%s) = %v, want %v", tt.channel, got, tt.want)
		}
	}

	if cm.ChannelName("222") != "mc-chat" || cm.ChannelName("999") != "999" {
		t.Errorf("unexpected channel names")
	}
}

func TestLoadChannelMapMissingFile(t *testing.T) {
	if _, err := LoadChannelMap(filepath.Join(t.TempDir(), "absent.yaml"), "111"); err == nil {
		t.Errorf("expected error for missing file")
	}
}
