package protocol

import "fmt"

// Packet is an outbound control frame. The set is closed: AuthPacket and HeartbeatPacket.
type Packet interface {
	packet()
}

// AuthPacket verifies a client against the relay for one room.
type AuthPacket struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key"`
}

// NewAuthPacket fills in the fixed fields the web client sends.
func NewAuthPacket(uid, roomID int64, token string) AuthPacket {
	return AuthPacket{
		UID:      uid,
		RoomID:   roomID,
		ProtoVer: 3,
		Platform: "web",
		Type:     2,
		Key:      token,
	}
}

// HeartbeatPacket keeps the connection alive; its payload is an empty object.
type HeartbeatPacket struct{}

func (AuthPacket) packet()      {}
func (HeartbeatPacket) packet() {}

// EncodePacket encodes a control frame with sequence 0.
func EncodePacket(p Packet) ([]byte, error) {
	switch p := p.(type) {
	case AuthPacket:
		return Encode(p, TypeAuth, SchemeRaw, 0)
	case HeartbeatPacket:
		return Encode(struct{}{}, TypeHeartbeat, SchemeRaw, 0)
	default:
		return nil, fmt.Errorf("%w: unknown packet %T", ErrEncoding, p)
	}
}

// AuthReply is the JSON body of the verify ack.
type AuthReply struct {
	Code int `json:"code"`
}
