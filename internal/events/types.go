package events

// Event type constants for kelindar/event.
const (
	TypePipelineState uint32 = iota + 1
	TypeOverlay
	TypeRecordWritten
	TypeSinkError
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineStateEvent is published on every orchestrator state transition.
type PipelineStateEvent struct {
	State     string `json:"state" example:"running" doc:"New pipeline state"`
	Previous  string `json:"previous" example:"starting" doc:"Previous pipeline state"`
	Reason    string `json:"reason,omitempty" example:"interrupt" doc:"Why shutdown was requested"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// OverlayEvent carries the text shown on top of the live video.
type OverlayEvent struct {
	Lines       []string `json:"lines" doc:"Overlay text lines"`
	FPS         float64  `json:"fps" example:"14.8" doc:"Rolling capture throughput"`
	InferenceMs float64  `json:"inference_ms" example:"41.2" doc:"Inference time of the last frame"`
	Subjects    int      `json:"subjects" example:"2" doc:"Poses above the confidence threshold"`
	Timestamp   string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Frame capture timestamp"`
}

// Type returns the event type identifier for OverlayEvent.
func (e OverlayEvent) Type() uint32 { return TypeOverlay }

// RecordWrittenEvent is published after a pose record reached a sink.
type RecordWrittenEvent struct {
	Measurement string   `json:"measurement" example:"mmbox_video_pose" doc:"Time-series measurement"`
	Subjects    []string `json:"subjects" doc:"Subject identifiers in the record"`
	Timestamp   string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Record timestamp"`
}

// Type returns the event type identifier for RecordWrittenEvent.
func (e RecordWrittenEvent) Type() uint32 { return TypeRecordWritten }

// SinkErrorEvent is published when a record write fails.
type SinkErrorEvent struct {
	Measurement string `json:"measurement" example:"mmbox_video_pose" doc:"Time-series measurement"`
	Error       string `json:"error" example:"connection refused" doc:"Write error"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Failure timestamp"`
}

// Type returns the event type identifier for SinkErrorEvent.
func (e SinkErrorEvent) Type() uint32 { return TypeSinkError }
