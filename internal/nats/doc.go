// Package nats connects a posenode to NATS: pose records, pipeline state and
// sink errors go out, stop commands come in.
//
// # Architecture
//
//   - Server: optional embedded NATS server (nats.embedded = true)
//   - Client: the node's connection; publishes and receives stop commands
//   - Forwarder: republishes event bus state and sink error events
//   - ControlPublisher: used by "posenode stop" to address running nodes
//
// # Subject Hierarchy
//
//	posenode.poses.{measurement}   # pose records (sink "nats")
//	posenode.state                 # pipeline state transitions
//	posenode.errors                # failed record writes
//	posenode.control.stop          # stop command, optionally addressed to a node
//
// Messaging is fire-and-forget (core NATS, no JetStream). The client
// degrades to offline mode when the server is unreachable.
//
// # Debugging
//
//	nats sub "posenode.>" -s nats://localhost:4222
//	nats pub posenode.control.stop '{"action":"stop","node":"kitchen","reason":"debug"}'
//
// # Message Formats
//
// StateMessage (posenode.state):
//
//	{
//	  "node": "kitchen",
//	  "state": "running",
//	  "previous": "starting",
//	  "timestamp": "2024-01-01T12:00:00Z"
//	}
//
// PoseRecordMessage (posenode.poses.mmbox_video_pose):
//
//	{
//	  "measurement": "mmbox_video_pose",
//	  "timestamp": "2024-01-01T12:00:00.123Z",
//	  "tags": {"session": "0b6f…", "model": "movenet"},
//	  "subjects": {"Person 0": {"keypoints": [...], "score": 42.5}}
//	}
package nats
