// Package logging provides structured logging with per-module log levels.
//
// # Usage
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pipeline":  "debug",
//			"inference": "warn",
//		},
//	})
//
// Get a logger for a module:
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Device opened", "device", "/dev/video0")
//
// Loggers are cached per module and their level is backed by a LevelVar, so
// loggers obtained before Initialize, or before a later SetLevels call from
// the config watcher, pick up the new level without being recreated.
//
// # Output
//
// Records go to stdout (text or json) when stdout is a terminal, pipe, socket
// or file, and to the systemd journal when journald is reachable. Both are
// combined through MultiHandler when available.
//
//	journalctl -t posenode -f
//	journalctl -t posenode MODULE=pipeline
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	pipeline = "debug"
//	sink = "warn"
package logging
