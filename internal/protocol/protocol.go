// Package protocol defines the JSON messages exchanged with search UI
// clients over the websocket.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// client -> server
	TypeStart        = "START"
	TypeStop         = "STOP"
	TypeStatus       = "STATUS"
	TypeResults      = "RESULTS"
	TypeAnnotate     = "ANNOTATE"
	TypeClearResults = "CLEAR_RESULTS"

	// server -> client
	TypeAck      = "ACK"
	TypeMatch    = "MATCH"
	TypeProgress = "PROGRESS"
	TypeStopped  = "STOPPED"
	TypeError    = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
