package serial

import (
	"fmt"

	bugst "go.bug.st/serial"
)

// systemOpener opens a real serial port via go.bug.st/serial.
func systemOpener(port string, baud int) (Port, error) {
	p, err := bugst.Open(port, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, port, err)
	}
	return p, nil
}

// ListPorts returns the device paths of all serial ports present on the
// system.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
