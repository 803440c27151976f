package tuning

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens a UART for the console at 8N1.
func OpenSerial(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("tuning: open %s: %w", name, err)
	}
	return port, nil
}
