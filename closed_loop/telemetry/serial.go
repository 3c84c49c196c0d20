package telemetry

import (
	"fmt"
	"io"

	"github.com/jacobsa/go-serial/serial"
)

type SerialConfig struct {
	Port string
	Baud uint
}

func serialOptions(cfg SerialConfig) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              cfg.Port,
		BaudRate:              cfg.Baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
}

// OpenSerialConsole opens the UART the log and debug output is mirrored to.
func OpenSerialConsole(cfg SerialConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serialOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return port, nil
}
