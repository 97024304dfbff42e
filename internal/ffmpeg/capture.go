package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// CaptureParams describes a V4L2 capture that writes MJPEG frames to stdout.
type CaptureParams struct {
	DevicePath  string
	InputFormat string // mjpeg, yuyv422, ...
	Resolution  string // 1280x720
	FPS         int
	// Quality is the MJPEG qscale (2 best, 31 worst). 0 leaves ffmpeg's default.
	Quality int
	Options []OptionType
}

// BuildCaptureCommand returns an ffmpeg command line that reads the device and
// writes a continuous stream of JPEG images to stdout.
func BuildCaptureCommand(p CaptureParams) (string, error) {
	if p.DevicePath == "" {
		return "", errors.New("device path is required")
	}
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	cmd.WriteString(" -f v4l2")
	applyInputOptions(p.Options, &cmd)

	if p.InputFormat != "" {
		cmd.WriteString(" -input_format " + p.InputFormat)
	}
	if p.Resolution != "" {
		cmd.WriteString(" -video_size " + p.Resolution)
	}
	if p.FPS > 0 {
		cmd.WriteString(fmt.Sprintf(" -framerate %d", p.FPS))
	}
	cmd.WriteString(" -i " + quoteArg(p.DevicePath))

	cmd.WriteString(" -an -f image2pipe -c:v mjpeg")
	if p.Quality > 0 {
		cmd.WriteString(fmt.Sprintf(" -q:v %d", p.Quality))
	}
	cmd.WriteString(" -")

	return cmd.String(), nil
}

// BuildListFormatsCommand returns an ffmpeg command line that prints the
// formats and frame sizes a V4L2 device supports.
func BuildListFormatsCommand(devicePath string) (string, error) {
	if devicePath == "" {
		return "", errors.New("device path is required")
	}
	return "ffmpeg -hide_banner -nostdin -f v4l2 -list_formats all -i " + quoteArg(devicePath), nil
}

// quoteArg quotes s when it contains characters the command parser splits on.
func quoteArg(s string) string {
	if !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
