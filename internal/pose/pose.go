// Package pose defines the pose records that flow through the pipeline.
package pose

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// subjectPrefix is the prefix of per-frame subject identifiers ("Person 0", "Person 1", ...).
const subjectPrefix = "Person "

// Keypoint is a single named joint in image coordinates.
type Keypoint struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Pose is one detected human skeleton with the model's confidence score.
// The score is on whatever scale the inference engine reports.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints"`
	Score     float64    `json:"score"`
}

// Keypoint returns the keypoint with the given name.
func (p Pose) Keypoint(name string) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// MarshalText encodes the pose as compact JSON. Used by sinks that can only
// store scalar field values.
func (p Pose) MarshalText() ([]byte, error) {
	type plain Pose
	return json.Marshal(plain(p))
}

// Frame maps per-frame subject identifiers to poses. Identifiers are assigned
// by detection order within one frame and are not stable across frames.
type Frame map[string]Pose

// SubjectID returns the identifier for the i-th kept detection of a frame.
func SubjectID(i int) string {
	return subjectPrefix + strconv.Itoa(i)
}

// subjectIndex parses the numeric suffix of a subject identifier.
func subjectIndex(id string) (int, bool) {
	if !strings.HasPrefix(id, subjectPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(subjectPrefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NewFrame builds a frame from detections that already passed filtering.
func NewFrame(poses []Pose) Frame {
	f := make(Frame, len(poses))
	for i, p := range poses {
		f[SubjectID(i)] = p
	}
	return f
}

// Empty reports whether no subject was detected.
func (f Frame) Empty() bool {
	return len(f) == 0
}

// Subjects returns the subject identifiers in detection order.
func (f Frame) Subjects() []string {
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aok := subjectIndex(ids[i])
		b, bok := subjectIndex(ids[j])
		if aok && bok {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (f Frame) String() string {
	parts := make([]string, 0, len(f))
	for _, id := range f.Subjects() {
		parts = append(parts, fmt.Sprintf("%s(score=%.1f, keypoints=%d)", id, f[id].Score, len(f[id].Keypoints)))
	}
	return "Frame{" + strings.Join(parts, ", ") + "}"
}

// Filter keeps detections whose score is strictly greater than threshold,
// preserving detection order.
func Filter(detections []Pose, threshold float64) []Pose {
	kept := make([]Pose, 0, len(detections))
	for _, d := range detections {
		if d.Score > threshold {
			kept = append(kept, d)
		}
	}
	return kept
}
