package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming for the relay. One channel per room carries every
// signaling event for that room.
const channelRoomSignals = "relay:room:%s:signals"

// RoomChannel returns the shared-bus channel name for a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf(channelRoomSignals, roomID)
}

// ChannelRoomID extracts the room id from a relay channel name.
func ChannelRoomID(channel string) (string, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "relay" || parts[1] != "room" || parts[3] != "signals" {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[2], nil
}
