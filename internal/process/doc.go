// Package process runs helper subprocesses (ffmpeg capture, inference
// workers) whose stdout carries data and whose stderr carries logs.
//
// A Process:
//   - exposes stdout as a reader and, optionally, stdin as a writer
//   - re-levels stderr lines through a pluggable LogParser
//   - stops with SIGINT, then SIGKILL after a grace timeout
//   - stops on its own when the start context is cancelled
//
// Example:
//
//	p, err := process.Start(ctx, process.Options{
//	    ID:        "capture",
//	    Command:   "ffmpeg -f v4l2 -i /dev/video0 -f image2pipe -c:v mjpeg -",
//	    Logger:    logger,
//	    LogParser: ffmpeg.ParseLogLevel,
//	})
//	if err != nil { ... }
//	defer p.Stop()
//	frames := p.Stdout()
package process
