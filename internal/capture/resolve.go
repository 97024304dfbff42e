package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const v4lRoot = "/dev/v4l"

// ResolveDevicePath converts a stable device id (the name of a symlink under
// /dev/v4l/by-id or /dev/v4l/by-path) to a usable device path for ffmpeg.
// Paths under /dev are returned unchanged.
func ResolveDevicePath(deviceID string) (string, error) {
	return resolveDevicePath(v4lRoot, deviceID)
}

func resolveDevicePath(root, deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("no capture device configured")
	}
	if strings.HasPrefix(deviceID, "/dev/") {
		return deviceID, nil
	}

	// by-id first for USB devices
	if strings.HasPrefix(deviceID, "usb-") {
		devicePath := filepath.Join(root, "by-id", deviceID)
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	// by-path for platform devices and USB devices without by-id
	if strings.HasPrefix(deviceID, "platform-") || strings.HasPrefix(deviceID, "usb-") || strings.HasPrefix(deviceID, "pci-") {
		devicePath := filepath.Join(root, "by-path", deviceID)
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	return "", fmt.Errorf("no stable symlink found for device ID: %s", deviceID)
}

// DeviceLink is a stable name for a video device.
type DeviceLink struct {
	ID     string // symlink name, usable as Config.Device
	Path   string // resolved /dev/videoN
	Source string // "by-id" or "by-path"
}

// ListDevices returns the stable device names under /dev/v4l.
func ListDevices() ([]DeviceLink, error) {
	return listDevices(v4lRoot)
}

func listDevices(root string) ([]DeviceLink, error) {
	var links []DeviceLink
	for _, dir := range []string{"by-id", "by-path"} {
		entries, err := os.ReadDir(filepath.Join(root, dir))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			link := filepath.Join(root, dir, e.Name())
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				continue
			}
			links = append(links, DeviceLink{ID: e.Name(), Path: target, Source: dir})
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Path != links[j].Path {
			return links[i].Path < links[j].Path
		}
		return links[i].ID < links[j].ID
	})
	return links, nil
}
