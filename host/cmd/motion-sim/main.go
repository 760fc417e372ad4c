package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"stepcore/core"
	"stepcore/host/meshstore"
	"stepcore/host/report"
	"stepcore/host/serial"
	"stepcore/standalone"
	"stepcore/standalone/config"
	"stepcore/standalone/manager"
	"stepcore/standalone/planner"
	"stepcore/targets/sim"
)

var (
	configPath = flag.String("config", "", "Machine config JSON (default: built-in cartesian)")
	movesPath  = flag.String("moves", "", "Move list, one \"X Y Z E [F]\" per line (default: demo path)")
	dbPath     = flag.String("db", "", "Mesh profile database")
	meshName   = flag.String("mesh", "", "Load this mesh profile before moving")
	saveName   = flag.String("save-mesh", "", "Store the calibrated mesh under this profile name")
	calibrate  = flag.Bool("calibrate", false, "Probe a simulated tilted bed before moving")
	tiltX      = flag.Float64("tilt-x", 0.0008, "Simulated bed slope along X (mm/mm)")
	tiltY      = flag.Float64("tilt-y", -0.0005, "Simulated bed slope along Y (mm/mm)")
	level      = flag.Bool("level", false, "Apply mesh correction to moves")
	plotPath   = flag.String("plot", "", "Write the velocity profile PNG here")
	heatPath   = flag.String("heatmap", "", "Write the mesh heatmap HTML here")
	device     = flag.String("serial", "", "Mirror status lines to this serial device")
	timing     = flag.Bool("timing", false, "Dump the timing ring at exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if *verbose || *timing {
		core.SetDebugWriter(func(s string) { report.Logf("%s", s) })
		core.SetDebugEnabled(*verbose)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	moves := demoMoves()
	if *movesPath != "" {
		f, err := os.Open(*movesPath)
		if err != nil {
			return err
		}
		moves, err = ParseMoves(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", *movesPath, err)
		}
	}

	mgr, err := manager.NewManagerWithConfig(cfg)
	if err != nil {
		return err
	}
	timer := sim.NewTimer()
	stepper := sim.NewStepper()
	if err := mgr.Initialize(timer, stepper); err != nil {
		return err
	}
	mgr.SetIdleHook(func() { timer.Fire(core.TimerStep) })
	if err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Stop()

	var status *serial.LineWriter
	if *device != "" {
		port, err := serial.Open(serial.DefaultConfig(*device))
		if err != nil {
			return err
		}
		defer port.Close()
		status = serial.NewLineWriter(port)
	}

	if err := prepareMesh(ctx, mgr); err != nil {
		return err
	}

	var blocks []planner.BlockInfo
	mgr.SetBlockObserver(func(b planner.BlockInfo) { blocks = append(blocks, b) })

	for i, mv := range moves {
		if err := mgr.PlanMove(mv.Target, mv.Feedrate); err != nil {
			return fmt.Errorf("move %d: %w", i+1, err)
		}
		if err := ctx.Err(); err != nil {
			mgr.Abort()
			return err
		}
	}
	if err := mgr.WaitIdle(ctx); err != nil {
		return err
	}

	line := report.FormatStatus(mgr.GetState())
	fmt.Println(line)
	fmt.Printf("moves=%d blocks=%d steps=%d time=%.3fs interrupts=%d prescaler-changes=%d\n",
		len(moves), len(blocks), core.GetTotalStepCount(), timer.Seconds(), timer.Interrupts, timer.PrescalerChanges)
	if status != nil {
		if err := status.WriteLine(line); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if *plotPath != "" {
		if err := report.SaveVelocityPNG(*plotPath, "Planned velocity", blocks); err != nil {
			return err
		}
	}
	if *heatPath != "" {
		f, err := os.Create(*heatPath)
		if err != nil {
			return err
		}
		err = report.WriteMeshHeatmap(f, "Bed mesh", mgr.Mesh())
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	if *timing {
		core.DumpTimingRing()
	}
	return nil
}

func loadConfig() (*standalone.MachineConfig, error) {
	if *configPath == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", *configPath, err)
	}
	return cfg, nil
}

// prepareMesh loads, probes and stores the mesh as the flags ask, then
// enables leveling
func prepareMesh(ctx context.Context, mgr *manager.Manager) error {
	var store *meshstore.Store
	if *dbPath != "" {
		s, err := meshstore.Open(*dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	if *meshName != "" {
		if store == nil {
			return fmt.Errorf("-mesh needs -db")
		}
		p, err := store.Get(ctx, *meshName)
		if err != nil {
			return fmt.Errorf("mesh %q: %w", *meshName, err)
		}
		if err := mgr.LoadMesh(p.Blob); err != nil {
			return fmt.Errorf("mesh %q: %w", *meshName, err)
		}
		report.Logf("loaded mesh %q (range %.3f mm)", p.Name, p.ZRange)
	}

	if *calibrate {
		probe := &sim.Probe{Surface: sim.Tilted(*tiltX, *tiltY, 0)}
		if err := mgr.Calibrate(ctx, probe); err != nil {
			return err
		}
		report.Logf("probed %d points", probe.Points)
		fmt.Print(report.FormatMesh(mgr.Mesh()))
		if *saveName != "" {
			if store == nil {
				return fmt.Errorf("-save-mesh needs -db")
			}
			p, err := store.Save(ctx, *saveName, mgr.Mesh())
			if err != nil {
				return err
			}
			report.Logf("saved mesh %q as %s", p.Name, p.ID)
		}
	}

	if *level {
		return mgr.SetLeveling(true)
	}
	return nil
}
