package transport

import (
	"encoding/json"
	"fmt"

	"github.com/example/scene-collab-engine/internal/types"
)

// Frame types exchanged between room members through the relay.
const (
	FrameJoin         = "join"
	FrameRoster       = "roster"
	FrameStateRequest = "state_request"
	FrameState        = "state"
	FrameUpdate       = "update"
	FrameAwareness    = "awareness"
	FrameLeave        = "leave"
)

// Frame is the wire envelope for room traffic. Payload carries encoded
// document bytes for state and update frames; User carries awareness
// metadata; Peers is populated on roster frames with the replica ids of the
// current room members.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Room    types.RoomID    `json:"room,omitempty"`
	Replica string          `json:"replica,omitempty"`
	User    *types.UserInfo `json:"user,omitempty"`
	Peers   []string        `json:"peers,omitempty"`
	Payload []byte          `json:"payload,omitempty"`
}

// EncodeFrame marshals a frame for transmission.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeFrame unmarshals a frame received from the wire.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type")
	}
	return f, nil
}
