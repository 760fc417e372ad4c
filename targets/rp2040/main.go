//go:build rp2040

package main

import (
	"context"
	"machine"
	"strconv"
	"strings"
	"time"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/config"
	"stepcore/standalone/manager"
	"stepcore/standalone/stepgen"
	"stepcore/targets/pio"
)

var (
	motion *manager.Manager
	probe  *ToFProbe
	line   []byte

	statusTimer = core.Timer{Handler: statusEvent}
)

const statusPeriodUS = 500000

func main() {
	// CRITICAL: Disable watchdog on boot to clear any previous state
	_ = machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	InitUSB()
	core.SetDebugWriter(func(s string) { USBWriteString(s + "\r\n") })
	core.SetDebugEnabled(true)

	core.SetGPIODriver(NewRPGPIODriver())
	core.SetTimerDriver(NewPWMStepTimer())

	cfg := config.DefaultCartesianConfig()
	var err error
	motion, err = manager.NewManagerWithConfig(cfg)
	if err != nil {
		fail(err)
	}
	if err := motion.Initialize(core.MustTimer(), selectBackend(cfg.StepperBackend)); err != nil {
		core.DebugPrintln("[MOTION] " + cfg.StepperBackend + " backend: " + err.Error() + ", using sio")
		pio.ResetPIOAllocations()
		if err := motion.Initialize(core.MustTimer(), pio.NewSIOBackend()); err != nil {
			fail(err)
		}
	}
	if err := motion.Start(); err != nil {
		fail(err)
	}
	motion.SetIdleHook(background)

	probe, err = NewToFProbe(motion.PlanMove, motion.WaitIdle)
	if err != nil {
		core.DebugPrintln("[PROBE] " + err.Error())
	}

	UpdateSystemTime()
	statusTimer.WakeTime = core.GetTime() + core.TimerFromUS(statusPeriodUS)
	core.ScheduleTimer(&statusTimer)

	for {
		background()
		if USBAvailable() > 0 {
			if b, err := USBRead(); err == nil {
				feed(b)
			}
		}
	}
}

func statusEvent(t *core.Timer) uint8 {
	reportState()
	t.WakeTime += core.TimerFromUS(statusPeriodUS)
	return core.SF_RESCHEDULE
}

func selectBackend(name string) core.StepperBackend {
	switch name {
	case "sio":
		return pio.NewSIOBackend()
	case "gpio":
		return stepgen.NewGPIOBackend(core.MustGPIO())
	}
	return pio.NewPIOBackend()
}

// background runs everything that must keep going while the caller waits
// for motion to finish
func background() {
	UpdateSystemTime()
	core.ProcessTimers()
	time.Sleep(10 * time.Microsecond)
}

// fail blinks the LED forever
func fail(err error) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		core.DebugPrintln("[MOTION] " + err.Error())
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}

func feed(b byte) {
	if b != '\n' && b != '\r' {
		if len(line) < 128 {
			line = append(line, b)
		}
		return
	}
	if len(line) == 0 {
		return
	}
	cmd := string(line)
	line = line[:0]
	if err := execute(cmd); err != nil {
		USBWriteString("error: " + err.Error() + "\r\n")
		return
	}
	USBWriteString("ok\r\n")
}

// execute runs one console line:
//
//	M x y z e [f]   move
//	P x y z e       redefine position
//	abort | estop | clear
//	level on|off | probe | status
func execute(cmd string) error {
	f := strings.Fields(cmd)
	switch strings.ToLower(f[0]) {
	case "m", "p":
		if len(f) < 5 {
			return strconv.ErrSyntax
		}
		var v [5]float64
		v[4] = 50
		for i, s := range f[1:] {
			if i >= len(v) {
				break
			}
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			v[i] = n
		}
		pos := standalone.Position{X: v[0], Y: v[1], Z: v[2], E: v[3]}
		if f[0] == "p" || f[0] == "P" {
			return motion.SetPosition(pos)
		}
		return motion.PlanMove(pos, v[4])
	case "abort":
		motion.Abort()
	case "estop":
		motion.EmergencyStop()
	case "clear":
		return motion.ClearFault()
	case "level":
		return motion.SetLeveling(len(f) > 1 && f[1] == "on")
	case "probe":
		if probe == nil {
			return ErrProbeRange
		}
		if err := motion.Calibrate(context.Background(), probe); err != nil {
			return err
		}
	case "status":
		reportState()
	default:
		return strconv.ErrSyntax
	}
	return nil
}

func reportState() {
	s := motion.GetState()
	msg := "pos " + core.FormatMilli(s.Position.X) + " " + core.FormatMilli(s.Position.Y) +
		" " + core.FormatMilli(s.Position.Z) + " buf " + core.Itoa(s.BufferFill) + " " + s.Phase
	if s.Fault != "" {
		msg += " FAULT " + s.Fault
	}
	USBWriteString(msg + "\r\n")
}
