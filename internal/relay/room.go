package relay

import (
	"context"
	"fmt"
)

// RelayHost is one server able to carry the chat stream for a room.
type RelayHost struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WSSPort int    `json:"wss_port"`
	WSPort  int    `json:"ws_port"`
}

// WSURL returns the plain websocket endpoint.
func (h RelayHost) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/sub", h.Host, h.WSPort)
}

// WSSURL returns the secure websocket endpoint.
func (h RelayHost) WSSURL() string {
	return fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WSSPort)
}

// URL returns the https endpoint.
func (h RelayHost) URL() string {
	return fmt.Sprintf("https://%s:%d/sub", h.Host, h.Port)
}

// RoomConnection holds the parameters needed to join one room's relay.
// It is created once per room and never modified.
type RoomConnection struct {
	RoomID           int64
	RefreshRowFactor float64
	RefreshRate      float64
	MaxDelay         float64
	Token            string
	Hosts            []RelayHost
}

// RoomFetcher resolves a room id into connection parameters.
type RoomFetcher interface {
	FetchRoomConnection(ctx context.Context, roomID int64) (*RoomConnection, error)
}

// User is the account the session authenticates as. UID 0 joins anonymously.
type User struct {
	UID int64
}

// HostPicker chooses which relay host to dial.
type HostPicker func(hosts []RelayHost) (RelayHost, error)

// FirstHost picks the first host in the list.
func FirstHost(hosts []RelayHost) (RelayHost, error) {
	return HostAt(0)(hosts)
}

// HostAt picks the host at index i.
func HostAt(i int) HostPicker {
	return func(hosts []RelayHost) (RelayHost, error) {
		if len(hosts) == 0 {
			return RelayHost{}, ErrNoHosts
		}
		if i < 0 || i >= len(hosts) {
			return RelayHost{}, fmt.Errorf("host index %d out of range, %d hosts", i, len(hosts))
		}
		return hosts[i], nil
	}
}
