package nats

import (
	"encoding/json"
	"strings"

	"github.com/smazurov/posenode/internal/pose"
)

// Subjects for NATS topics.
const (
	SubjectPrefix      = "posenode"
	SubjectPosesPrefix = "posenode.poses"
	SubjectState       = "posenode.state"
	SubjectSinkErrors  = "posenode.errors"
	SubjectControlStop = "posenode.control.stop"
)

// ActionStop is the only control action.
const ActionStop = "stop"

// SubjectPoses returns the subject pose records of a measurement are published on.
// Characters NATS treats as token separators or wildcards are replaced.
func SubjectPoses(measurement string) string {
	return SubjectPosesPrefix + "." + subjectToken(measurement)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// PoseRecordMessage is one published pose record.
type PoseRecordMessage struct {
	Measurement string               `json:"measurement"`
	Timestamp   string               `json:"timestamp"`
	Tags        map[string]string    `json:"tags,omitempty"`
	Subjects    map[string]pose.Pose `json:"subjects"`
}

// Marshal serializes the message to JSON.
func (m PoseRecordMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// StateMessage is a pipeline state transition.
type StateMessage struct {
	Node      string `json:"node"`
	State     string `json:"state"`
	Previous  string `json:"previous,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// SinkErrorMessage reports a failed record write.
type SinkErrorMessage struct {
	Node        string `json:"node"`
	Measurement string `json:"measurement"`
	Error       string `json:"error"`
	Timestamp   string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m SinkErrorMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessage is a command sent to a running node.
type ControlMessage struct {
	Action    string `json:"action"` // stop
	Node      string `json:"node,omitempty"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalPoseRecord deserializes a PoseRecordMessage from JSON.
func UnmarshalPoseRecord(data []byte) (PoseRecordMessage, error) {
	var m PoseRecordMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalSinkError deserializes a SinkErrorMessage from JSON.
func UnmarshalSinkError(data []byte) (SinkErrorMessage, error) {
	var m SinkErrorMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
