package pipeline

import (
	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/pose"
)

// Display shows annotated frames to a user.
type Display interface {
	// Send hands over a captured frame with all raw detections and overlay text.
	// It must not block the capture loop.
	Send(frame capture.Frame, detections []pose.Pose, overlay []string)
	// ShouldExit reports a user-initiated exit.
	ShouldExit() bool
}

// NopDisplay discards frames and never asks to exit.
type NopDisplay struct{}

// Send implements Display.
func (NopDisplay) Send(capture.Frame, []pose.Pose, []string) {}

// ShouldExit implements Display.
func (NopDisplay) ShouldExit() bool { return false }
