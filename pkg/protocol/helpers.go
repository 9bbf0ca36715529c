package protocol

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewConnectMessage creates a connect message
func NewConnectMessage(studentID, examCode, agentID string) (*Message, error) {
	return NewMessage(TypeConnect, ConnectData{
		StudentID: studentID,
		ExamCode:  examCode,
		AgentID:   agentID,
	})
}

// NewDisconnectMessage creates a disconnect message
func NewDisconnectMessage(studentID string) (*Message, error) {
	return NewMessage(TypeDisconnect, DisconnectData{StudentID: studentID})
}

// NewHeartbeatMessage creates a heartbeat message
func NewHeartbeatMessage(studentID string) (*Message, error) {
	return NewMessage(TypeHeartbeat, HeartbeatData{StudentID: studentID})
}

// NewFrameMessage creates a frame message from a landmark set. A nil set
// encodes a frame without a face.
func NewFrameMessage(studentID string, set landmarks.Set, frameID uint64) (*Message, error) {
	var pts [][3]float64
	if len(set) > 0 {
		pts = make([][3]float64, len(set))
		for i, p := range set {
			pts[i] = [3]float64{p.X, p.Y, p.Z}
		}
	}
	return NewMessage(TypeFrame, FrameData{
		StudentID: studentID,
		FrameID:   frameID,
		Landmarks: pts,
	})
}

// NewViolationMessage creates a violation message. The confidence is rounded
// to two decimals.
func NewViolationMessage(studentID string, behavior int, behaviorName string, confidence float64) (*Message, error) {
	return NewMessage(TypeViolation, ViolationData{
		StudentID:    studentID,
		Behavior:     behavior,
		BehaviorName: behaviorName,
		Confidence:   RoundConfidence(confidence),
	})
}

// NewStatusUpdateMessage creates a status update message
func NewStatusUpdateMessage(data StatusUpdateData) (*Message, error) {
	data.Confidence = RoundConfidence(data.Confidence)
	return NewMessage(TypeStatusUpdate, data)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetConnectData extracts connect data from a message
func (m *Message) GetConnectData() (*ConnectData, error) {
	var data ConnectData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetHeartbeatData extracts heartbeat data from a message
func (m *Message) GetHeartbeatData() (*HeartbeatData, error) {
	var data HeartbeatData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Set converts the frame's landmarks. It returns nil when no face was sent.
func (f *FrameData) Set() landmarks.Set {
	if len(f.Landmarks) == 0 {
		return nil
	}
	set := make(landmarks.Set, len(f.Landmarks))
	for i, p := range f.Landmarks {
		set[i] = landmarks.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	return set
}

// GetViolationData extracts violation data from a message
func (m *Message) GetViolationData() (*ViolationData, error) {
	var data ViolationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusUpdateData extracts status update data from a message
func (m *Message) GetStatusUpdateData() (*StatusUpdateData, error) {
	var data StatusUpdateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
