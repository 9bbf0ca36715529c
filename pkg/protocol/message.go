// Package protocol defines the WebSocket message types exchanged between
// proctoring agents (exam machines) and the gateway.
package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Agent → Gateway messages
	TypeConnect    MessageType = "connect"    // Session open
	TypeDisconnect MessageType = "disconnect" // Session close
	TypeHeartbeat  MessageType = "heartbeat"  // Liveness
	TypeFrame      MessageType = "frame"      // Landmarks for one camera frame
	TypeViolation  MessageType = "violation"  // Violation detected on the agent

	// Gateway → Agent / dashboard messages
	TypeStatusUpdate MessageType = "status_update" // Per-frame status

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool {
	switch t {
	case TypeConnect, TypeDisconnect, TypeHeartbeat, TypeFrame, TypeViolation,
		TypeStatusUpdate, TypePing, TypePong:
		return true
	}
	return false
}

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Time returns the message timestamp, or the zero time when unset.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Agent → Gateway Message Types
// =============================================================================

// ConnectData opens a session for a subject.
type ConnectData struct {
	StudentID string `json:"student_id"`
	ExamCode  string `json:"exam_code,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// DisconnectData closes the subject's session.
type DisconnectData struct {
	StudentID string `json:"student_id"`
}

// HeartbeatData keeps the agent marked online.
type HeartbeatData struct {
	StudentID string `json:"student_id"`
}

// FrameData carries the landmarks of one camera frame. An empty Landmarks
// slice means no face was detected.
type FrameData struct {
	StudentID string       `json:"student_id"`
	FrameID   uint64       `json:"frame_id,omitempty"`
	Landmarks [][3]float64 `json:"landmarks,omitempty" validate:"facemesh,max=1000"` // normalised x, y, z
}

// ViolationData reports a violation detected on the agent.
type ViolationData struct {
	StudentID    string  `json:"student_id"`
	Behavior     int     `json:"behavior"`
	BehaviorName string  `json:"behavior_name"`
	Confidence   float64 `json:"confidence"` // rounded to 2 decimals
}

// =============================================================================
// Gateway → Agent / Dashboard Message Types
// =============================================================================

// StatusUpdateData is the gateway's verdict on one frame.
type StatusUpdateData struct {
	StudentID    string  `json:"student_id"`
	Status       string  `json:"status"`
	Color        string  `json:"color,omitempty"`
	Behavior     int     `json:"behavior"`
	BehaviorName string  `json:"behavior_name"`
	Confidence   float64 `json:"confidence"`
	Description  string  `json:"description,omitempty"`
	Violation    bool    `json:"violation,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// RoundConfidence rounds to two decimals, the precision confidences are
// reported with.
func RoundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}
