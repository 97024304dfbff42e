package inference

import (
	"context"
	"math"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/pose"
)

// figure holds COCO keypoint offsets for a standing person, in units of
// body height, relative to the hip centre.
var figure = map[string][2]float64{
	"nose":           {0, -0.45},
	"left_eye":       {0.02, -0.47},
	"right_eye":      {-0.02, -0.47},
	"left_ear":       {0.04, -0.46},
	"right_ear":      {-0.04, -0.46},
	"left_shoulder":  {0.09, -0.33},
	"right_shoulder": {-0.09, -0.33},
	"left_elbow":     {0.12, -0.18},
	"right_elbow":    {-0.12, -0.18},
	"left_wrist":     {0.13, -0.04},
	"right_wrist":    {-0.13, -0.04},
	"left_hip":       {0.06, 0},
	"right_hip":      {-0.06, 0},
	"left_knee":      {0.07, 0.23},
	"right_knee":     {-0.07, 0.23},
	"left_ankle":     {0.07, 0.45},
	"right_ankle":    {-0.07, 0.45},
}

// syntheticModel produces deterministic poses from the frame sequence number.
// Frame n carries n%4 people; person i scores 10+15i plus a small wobble, so
// with the default threshold the first person of every frame is rejected.
type syntheticModel struct {
	desc Description
}

func newSynthetic(cfg Config) *syntheticModel {
	id := cfg.ModelID
	if id == "" {
		id = "synthetic"
	}
	return &syntheticModel{desc: Description{
		ModelID:     id,
		Engine:      cfg.Engine,
		Accelerator: cfg.Accelerator,
		Version:     "synthetic",
	}}
}

func (m *syntheticModel) Infer(ctx context.Context, frame capture.Frame) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	w, h := float64(frame.Width), float64(frame.Height)
	if w == 0 || h == 0 {
		w, h = 640, 480
	}

	n := int(frame.Seq % 4)
	poses := make([]pose.Pose, n)
	for i := range n {
		cx := w * float64(i+1) / float64(n+1)
		cx += math.Sin(float64(frame.Seq)/10+float64(i)) * w * 0.05
		cy := h * 0.55
		height := h * 0.7

		kps := make([]pose.Keypoint, 0, len(pose.COCOKeypoints))
		for _, name := range pose.COCOKeypoints {
			off := figure[name]
			kps = append(kps, pose.Keypoint{
				Name: name,
				X:    math.Round(cx + off[0]*height),
				Y:    math.Round(cy + off[1]*height),
			})
		}
		poses[i] = pose.Pose{
			Keypoints: kps,
			Score:     10 + 15*float64(i) + float64(frame.Seq%5),
		}
	}

	return Result{Poses: poses, Duration: time.Since(start)}, nil
}

func (m *syntheticModel) Describe() Description {
	return m.desc
}

func (m *syntheticModel) Close() error {
	return nil
}
