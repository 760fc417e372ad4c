//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

var ErrNoDevice = errors.New("no serial device given")

// NativePort streams to a tty through tarm/serial
type NativePort struct {
	port *serial.Port
	name string
}

// Open opens the device named in cfg. A zero baud rate selects the status
// stream default.
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, ErrNoDevice
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultConfig(cfg.Device).Baud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &NativePort{port: port, name: cfg.Device}, nil
}

func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write hands all of b to the driver, retrying short writes
func (p *NativePort) Write(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := p.port.Write(b[n:])
		n += m
		if err != nil {
			return n, fmt.Errorf("write %s: %w", p.name, err)
		}
		if m == 0 {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

func (p *NativePort) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Flush is a no-op: tarm/serial's Flush discards pending data, and Write
// already blocks until the bytes reach the driver
func (p *NativePort) Flush() error {
	return nil
}
