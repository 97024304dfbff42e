package ffmpeg

import "strings"

// ParseLogLevel splits an ffmpeg log line written with "-loglevel level+..."
// into its level and message. Lines look like "[error] msg" or
// "[v4l2 @ 0x...] [error] msg"; the component prefix is kept in the message.
// Lines without a recognised level are reported at info.
func ParseLogLevel(line string) (level, msg string) {
	head, rest, ok := cutBracket(line)
	if !ok {
		return "info", line
	}
	if isLogLevel(head) {
		return head, rest
	}

	if next, tail, found := cutBracket(rest); found && isLogLevel(next) {
		return next, line[:len(line)-len(rest)] + tail
	}
	return "info", line
}

// cutBracket splits "[x] rest" into x and rest.
func cutBracket(s string) (inside, rest string, ok bool) {
	if len(s) < 3 || s[0] != '[' {
		return "", s, false
	}
	inside, rest, ok = strings.Cut(s[1:], "] ")
	return inside, rest, ok
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
