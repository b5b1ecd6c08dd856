package protocol

import (
	"fmt"
	"strings"
)

// Device is the client platform category. Opcode meaning is only defined
// relative to a device.
type Device uint8

const (
	Desktop Device = iota
	Android
	IOS
)

var deviceNames = map[Device]string{
	Desktop: "desktop",
	Android: "android",
	IOS:     "ios",
}

// String returns the lowercase device name.
func (d Device) String() string {
	if s, ok := deviceNames[d]; ok {
		return s
	}
	return fmt.Sprintf("device(%d)", uint8(d))
}

// ParseDevice converts a name (case-insensitive) to a Device.
func ParseDevice(name string) (Device, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, s := range deviceNames {
		if s == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown device %q", name)
}

// Devices returns every known device in declaration order.
func Devices() []Device {
	return []Device{Desktop, Android, IOS}
}
