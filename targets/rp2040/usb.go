//go:build rp2040

package main

import (
	"machine"
)

// InitUSB initializes USB serial communication
// TinyGo automatically sets up USB CDC-ACM on RP2040
func InitUSB() {
	// machine.Serial is USB CDC, not UART
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteString writes s to USB
func USBWriteString(s string) {
	_, _ = machine.Serial.Write([]byte(s))
}
