// Package pipeline runs the two-stage pose pipeline.
//
// A Source reads frames from a capture device, runs the pose model and pushes
// one pose.Frame per captured image into a FrameQueue. A Publisher samples the
// queue once per period and writes non-empty frames to a sink. The
// Orchestrator owns the queue and the ShutdownSignal shared by both loops,
// drives the Starting, Running, StopRequested and Stopped states, and bounds
// how long it waits for each loop to finish.
//
//	device -> Source -> FrameQueue -> Publisher -> sink
//	             \                       /
//	              +-- ShutdownSignal ---+
//
// Delivery to the sink is at most once. Frames still queued at shutdown are
// discarded and counted.
package pipeline
