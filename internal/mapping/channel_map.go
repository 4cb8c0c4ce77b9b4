package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelInfo contains relay settings for one chat channel
type ChannelInfo struct {
	Name  string `yaml:"name"`
	Relay bool   `yaml:"relay"`
	Notes string `yaml:"notes"`
}

// ChannelMap decides which chat channels relay into the game
type ChannelMap struct {
	Channels map[string]ChannelInfo `yaml:"channels"`
}

// NewChannelMap creates a map relaying only defaultChannelID (if set)
func NewChannelMap(defaultChannelID string) *ChannelMap {
	cm := &ChannelMap{Channels: make(map[string]ChannelInfo)}
	if defaultChannelID != "" {
		cm.Channels[defaultChannelID] = ChannelInfo{Name: "default", Relay: true}
	}
	return cm
}

// LoadChannelMap loads channel_map.yaml. The default channel is added
// when the file does not mention it.
func LoadChannelMap(path, defaultChannelID string) (*ChannelMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel map: %w", err)
	}

	var cm ChannelMap
	if err := yaml.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("failed to parse channel map: %w", err)
	}

	if cm.Channels == nil {
		cm.Channels = make(map[string]ChannelInfo)
	}
	if _, ok := cm.Channels[defaultChannelID]; !ok && defaultChannelID != "" {
		cm.Channels[defaultChannelID] = ChannelInfo{Name: "default", Relay: true}
	}

	return &cm, nil
}

// RelayEnabled reports whether messages from channelID go to the game
func (cm *ChannelMap) RelayEnabled(channelID string) bool {
	info, ok := cm.Channels[channelID]
	return ok && info.Relay
}

// ChannelName returns the configured name, or the ID itself if unknown
func (cm *ChannelMap) ChannelName(channelID string) string {
	if info, ok := cm.Channels[channelID]; ok && info.Name != "" {
		return info.Name
	}
	return channelID
}
