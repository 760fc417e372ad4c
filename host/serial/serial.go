package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for the status stream
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

// LineWriter writes newline-terminated records to a port, flushing after
// each one so a terminal on the other end sees whole lines
type LineWriter struct {
	port Port
	buf  []byte
}

// NewLineWriter wraps p
func NewLineWriter(p Port) *LineWriter {
	return &LineWriter{port: p, buf: make([]byte, 0, 128)}
}

// WriteLine sends s followed by "\r\n"
func (w *LineWriter) WriteLine(s string) error {
	w.buf = append(w.buf[:0], s...)
	w.buf = append(w.buf, '\r', '\n')
	if _, err := w.port.Write(w.buf); err != nil {
		return err
	}
	return w.port.Flush()
}
