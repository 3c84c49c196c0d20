package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/closed_loop/calval"
	"diffdrive-core/closed_loop/config"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "KEY=VALUE config file (defaults when empty)")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical (overrides LOG_LEVEL)")
		procName = flag.String("cal", "", "run a procedure: motor|pid|linear|angular")
		stageArg = flag.String("stage", "validate", "calibrate|validate")
		wheelArg = flag.String("wheel", "both", "left|right|both (motor and pid)")
		dirArg   = flag.String("dir", "both", "forward|backward|both (motor and pid)")
		measured = flag.Float64("measured", 0, "measured distance in m (linear) or rotation in deg (angular) for calibration")
		ccw      = flag.Bool("ccw", false, "rotate counter clockwise (angular)")
		backward = flag.Bool("backward", false, "drive backward (linear)")
		show     = flag.Bool("show", false, "print stored calibration and drive settings, then exit")
		scenPath = flag.String("scenario", "", "scenario JSON file driving the velocity command")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log, err := utils.NewFileLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.LogFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, hal.NewSystemClock(), log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if *show {
		if err := runner.ShowSettings(os.Stdout); err != nil {
			log.Error("Show settings: %v", err)
		}
		return
	}

	if *procName != "" {
		stage, err := calval.ParseStage(*stageArg)
		if err != nil {
			log.Critical("%v", err)
			os.Exit(1)
		}
		p, err := buildProcedure(runner.Env(), procedureArgs{
			name:     *procName,
			stage:    stage,
			wheels:   *wheelArg,
			dirs:     *dirArg,
			measured: *measured,
			ccw:      *ccw,
			backward: *backward,
		})
		if err != nil {
			log.Critical("%v", err)
			os.Exit(1)
		}
		if err := runner.RunProcedure(ctx, p, stage); err != nil {
			log.Critical("%s %s: %v", p.Name(), stage, err)
			os.Exit(1)
		}
		return
	}

	if *scenPath != "" {
		scen, err := LoadScenario(*scenPath)
		if err != nil {
			log.Critical("Load scenario: %v", err)
			os.Exit(1)
		}
		runner.SetScenario(scen)
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

type procedureArgs struct {
	name     string
	stage    calval.Stage
	wheels   string
	dirs     string
	measured float64
	ccw      bool
	backward bool
}

func parseSelection(wheels, dirs string) (calval.Selection, error) {
	w, ok := calval.ParseWheels(wheels)
	if !ok {
		return calval.Selection{}, fmt.Errorf("unknown wheel %q", wheels)
	}
	d, ok := calval.ParseDirections(dirs)
	if !ok {
		return calval.Selection{}, fmt.Errorf("unknown direction %q", dirs)
	}
	return calval.Selection{Wheels: w, Directions: d}, nil
}

func buildProcedure(env *calval.Env, a procedureArgs) (calval.Procedure, error) {
	switch a.name {
	case "motor":
		sel, err := parseSelection(a.wheels, a.dirs)
		if err != nil {
			return nil, err
		}
		cfg := calval.DefaultMotorConfig()
		cfg.Legs = sel
		return calval.NewMotorProcedure(env, cfg), nil
	case "pid":
		sel, err := parseSelection(a.wheels, a.dirs)
		if err != nil {
			return nil, err
		}
		cfg := calval.DefaultPIDConfig()
		cfg.Legs = sel
		return calval.NewPIDProcedure(env, cfg), nil
	case "linear":
		if a.stage == calval.Calibrate && a.measured <= 0 {
			return nil, fmt.Errorf("linear calibration needs -measured distance in meters")
		}
		cfg := calval.DefaultLinearConfig()
		cfg.Backward = a.backward
		p := calval.NewLinearProcedure(env, cfg)
		p.SetMeasured(a.measured)
		return p, nil
	case "angular":
		if a.stage == calval.Calibrate && a.measured <= 0 {
			return nil, fmt.Errorf("angular calibration needs -measured rotation in degrees")
		}
		cfg := calval.DefaultAngularConfig()
		cfg.Clockwise = !a.ccw
		p := calval.NewAngularProcedure(env, cfg)
		p.SetMeasured(a.measured)
		return p, nil
	}
	return nil, fmt.Errorf("unknown procedure %q", a.name)
}

type settings struct {
	Calibration calstore.Snapshot   `json:"calibration"`
	Drive       control.DriveConfig `json:"drive"`
	MaxCps      float64             `json:"max_wheel_cps"`
	MaxLinear   float64             `json:"max_linear_mps"`
	MaxAngular  float64             `json:"max_angular_rps"`
}

func writeSettings(w io.Writer, snap calstore.Snapshot, drive control.DriveConfig) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(settings{
		Calibration: snap,
		Drive:       drive,
		MaxCps:      drive.Geometry.MaxWheelCps(),
		MaxLinear:   drive.Geometry.MaxLinear(),
		MaxAngular:  drive.Geometry.MaxAngular(),
	})
}
