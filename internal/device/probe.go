package device

import (
	"strings"

	serial "go.bug.st/serial"
)

// usbPrefixes are the unix device names USB serial adapters show up under.
var usbPrefixes = []string{"/dev/tty.usb", "/dev/cu.usb", "/dev/ttyUSB", "/dev/ttyACM"}

// ListPorts returns the serial ports known to the operating system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// PickPort chooses the most likely controller port from names. On Windows the
// most recently enumerated port wins; elsewhere the first USB serial adapter.
func PickPort(names []string, goos string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	if goos == "windows" {
		return names[len(names)-1], true
	}
	for _, n := range names {
		for _, prefix := range usbPrefixes {
			if strings.HasPrefix(n, prefix) {
				return n, true
			}
		}
	}
	return "", false
}
