//go:build !tinygo

package core

import "sync/atomic"

// getSystemTicks returns the current system ticks. Host builds drive the
// clock from the simulation HAL, which may run on its own goroutine.
func getSystemTicks() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// setSystemTicks sets the system ticks
func setSystemTicks(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}
