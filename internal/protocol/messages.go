package protocol

import (
	"encoding/json"

	"seedcraft.ai/internal/search"
)

// START (client -> server). Config is a search config document.
type StartMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Config          json.RawMessage `json:"config"`
	// Resume continues from the job's last checkpoint.
	Resume bool `json:"resume,omitempty"`
	// SaveDefault also stores Config as the default search config.
	SaveDefault bool `json:"save_default,omitempty"`
}

// STOP, STATUS and CLEAR_RESULTS carry no payload beyond the base fields.
type RequestMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

// RESULTS (client -> server) asks for stored results; RunID "" means all runs.
type ResultsReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	RunID           string `json:"run_id,omitempty"`
}

// ANNOTATE (client -> server) edits a stored result's description.
type AnnotateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	RunID           string `json:"run_id"`
	Seed            int64  `json:"seed"`
	Text            string `json:"text"`
}

// ACK (server -> client) answers a request.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	ReqID           string `json:"req_id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	RunID           string `json:"run_id,omitempty"`
}

// STATUS (server -> client).
type StatusMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	State           string          `json:"state"`
	RunID           string          `json:"run_id,omitempty"`
	Progress        search.Progress `json:"progress"`
	ResumeStart     int64           `json:"resume_start"`
	DefaultConfig   json.RawMessage `json:"default_config,omitempty"`
}

// RESULTS (server -> client).
type ResultsMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Results         []search.Result `json:"results"`
}

// MATCH (server -> client) carries one batch of accepted results.
type MatchMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Results         []search.Result `json:"results"`
}

// PROGRESS (server -> client).
type ProgressMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RunID           string          `json:"run_id"`
	Progress        search.Progress `json:"progress"`
}

// STOPPED (server -> client).
type StoppedMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Summary         search.Summary `json:"summary"`
}

// ERROR (server -> client) reports an unroutable or malformed message.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewAck(ackFor, reqID string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: ackFor, ReqID: reqID, Accepted: true}
}

func NewReject(ackFor, reqID, code, msg string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: ackFor, ReqID: reqID, Code: code, Message: msg}
}
