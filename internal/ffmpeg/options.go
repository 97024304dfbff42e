// Package ffmpeg builds the ffmpeg command lines used for frame capture and
// parses ffmpeg's log output.
package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// Base returns the ffmpeg command with standard flags.
// level+ prefixes every log line with its level so ParseLogLevel can re-level it.
func Base() string {
	return "ffmpeg -hide_banner -nostdin -loglevel level+warning"
}

// OptionType is an input-side ffmpeg behaviour flag.
type OptionType string

// Input options.
const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
)

// Option describes one input option.
type Option struct {
	Key         OptionType
	Description string
	Default     bool
	// Group names a set of mutually exclusive options; empty when none.
	Group string
	// ConflictsWith lists options that must not be combined with this one.
	ConflictsWith []OptionType
}

// AllOptions lists every supported input option.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Description:   "Generate presentation timestamps",
		ConflictsWith: []OptionType{OptionWallclockTimestamp},
	},
	{
		Key:         OptionIgnoreDTS,
		Description: "Ignore decode timestamps from misbehaving devices",
	},
	{
		Key:         OptionIgnoreErrors,
		Description: "Keep reading despite corrupt frames",
	},
	{
		Key:           OptionWallclockTimestamp,
		Description:   "Stamp frames with wall-clock time",
		Default:       true,
		ConflictsWith: []OptionType{OptionGeneratePTS},
	},
	{
		Key:         OptionThreadQueue1024,
		Description: "1024-packet input queue",
		Default:     true,
		Group:       "thread_queue",
	},
	{
		Key:         OptionThreadQueue4096,
		Description: "4096-packet input queue for bursty devices",
		Group:       "thread_queue",
	},
	{
		Key:         OptionLowLatency,
		Description: "Disable input buffering",
		Default:     true,
	},
}

// GetOption returns an option by its key.
func GetOption(key OptionType) (Option, bool) {
	for _, o := range AllOptions {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// DefaultOptions returns the options enabled when none are configured.
func DefaultOptions() []OptionType {
	var defaults []OptionType
	for _, o := range AllOptions {
		if o.Default {
			defaults = append(defaults, o.Key)
		}
	}
	return defaults
}

// ParseOptions converts configured option names, rejecting unknown ones.
func ParseOptions(names []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(names))
	for _, name := range names {
		key := OptionType(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := GetOption(key); !ok {
			return nil, fmt.Errorf("unknown ffmpeg option %q", name)
		}
		opts = append(opts, key)
	}
	return opts, nil
}

// ValidateOptions checks for exclusive group violations and conflicts.
func ValidateOptions(selected []OptionType) error {
	groups := make(map[string]OptionType)
	for _, key := range selected {
		o, ok := GetOption(key)
		if !ok || o.Group == "" {
			continue
		}
		if prev, dup := groups[o.Group]; dup && prev != key {
			return fmt.Errorf("options %s and %s are mutually exclusive", prev, key)
		}
		groups[o.Group] = key
	}

	for _, key := range selected {
		o, ok := GetOption(key)
		if !ok {
			continue
		}
		for _, c := range o.ConflictsWith {
			if slices.Contains(selected, c) {
				return fmt.Errorf("option %s conflicts with %s", key, c)
			}
		}
	}
	return nil
}

// applyInputOptions writes the input-side flags for options to cmd.
func applyInputOptions(options []OptionType, cmd *strings.Builder) {
	var fflags []string

	for _, option := range options {
		switch option {
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionLowLatency:
			fflags = append(fflags, "+nobuffer")
		case OptionIgnoreErrors:
			cmd.WriteString(" -err_detect ignore_err")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		}
	}

	if len(fflags) > 0 {
		cmd.WriteString(" -fflags " + strings.Join(fflags, ""))
	}
}
