package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/closed_loop/calval"
	"diffdrive-core/closed_loop/config"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/closed_loop/telemetry"
	"diffdrive-core/utils"
)

// Runner owns the hardware, the drive and every telemetry sink, and runs the
// cooperative control loop.
type Runner struct {
	cfg    *config.Config
	log    *utils.Logger
	clock  hal.Clock
	store  *calstore.Store
	drive  *control.Drive
	cmdBuf *control.CommandBuffer
	calval *calval.Runner
	sinks  *telemetry.Fanout

	canSrc  *telemetry.CANCommandSource
	actions chan telemetry.Action
	player  *ScenarioPlayer

	lastStatus uint32
	closers    []func()
}

// NewRunner builds the drive from cfg. Telemetry sinks are optional and only
// started when their settings are present.
func NewRunner(ctx context.Context, cfg *config.Config, clock hal.Clock, log *utils.Logger) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		log:     log,
		clock:   clock,
		sinks:   telemetry.NewFanout(),
		actions: make(chan telemetry.Action, 8),
	}
	if err := r.open(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) open(ctx context.Context) error {
	nv, err := hal.OpenFileStore(r.cfg.NVStorePath, calstore.LayoutSize)
	if err != nil {
		return fmt.Errorf("nv store: %w", err)
	}
	r.closers = append(r.closers, func() { _ = nv.Close() })
	r.store, err = calstore.New(nv, r.log)
	if err != nil {
		return fmt.Errorf("calibration store: %w", err)
	}

	hw, err := r.openHardware(ctx)
	if err != nil {
		return err
	}

	r.cmdBuf = control.NewCommandBuffer(r.clock)
	r.drive, err = control.NewDrive(r.cfg.Drive, hw, r.store, r.clock, r.log, r.cmdBuf.Read, r.sinks)
	if err != nil {
		return fmt.Errorf("drive: %w", err)
	}
	r.calval = calval.NewRunner(r.clock, r.log, r.sinks)

	if err := r.openTelemetry(ctx); err != nil {
		return err
	}
	r.drive.Start()
	r.log.Info("Drive ready: hardware=%s calibration=%v sinks=%d", r.cfg.Hardware, r.store.StatusNames(), r.sinks.Len())
	return nil
}

func (r *Runner) openHardware(ctx context.Context) (control.Hardware, error) {
	if r.cfg.Hardware == config.HardwareSim {
		left := hal.NewSimWheel(r.clock, hal.DefaultSimWheelConfig(false))
		right := hal.NewSimWheel(r.clock, hal.DefaultSimWheelConfig(true))
		return control.Hardware{LeftMotor: left, RightMotor: right, LeftEncoder: left, RightEncoder: right}, nil
	}

	lm, err := hal.NewPeriphMotor(r.cfg.LeftMotorPin)
	if err != nil {
		return control.Hardware{}, fmt.Errorf("left motor: %w", err)
	}
	rm, err := hal.NewPeriphMotor(r.cfg.RightMotorPin)
	if err != nil {
		return control.Hardware{}, fmt.Errorf("right motor: %w", err)
	}
	r.closers = append(r.closers, func() {
		lm.SetPwm(calstore.PwmStop)
		rm.SetPwm(calstore.PwmStop)
	})
	le, err := hal.NewPeriphEncoder(ctx, r.cfg.LeftEncoderA, r.cfg.LeftEncoderB, false)
	if err != nil {
		return control.Hardware{}, fmt.Errorf("left encoder: %w", err)
	}
	r.closers = append(r.closers, func() { _ = le.Close() })
	re, err := hal.NewPeriphEncoder(ctx, r.cfg.RightEncoderA, r.cfg.RightEncoderB, r.cfg.RightEncoderInvert)
	if err != nil {
		return control.Hardware{}, fmt.Errorf("right encoder: %w", err)
	}
	r.closers = append(r.closers, func() { _ = re.Close() })
	return control.Hardware{LeftMotor: lm, RightMotor: rm, LeftEncoder: le, RightEncoder: re}, nil
}

func (r *Runner) openTelemetry(ctx context.Context) error {
	cfg := r.cfg

	if cfg.SerialPort != "" {
		port, err := telemetry.OpenSerialConsole(telemetry.SerialConfig{Port: cfg.SerialPort, Baud: cfg.SerialBaud})
		if err != nil {
			return err
		}
		r.log.Attach(port)
		r.closers = append(r.closers, func() { _ = port.Close() })
		r.log.Info("Serial console on %s at %d baud", cfg.SerialPort, cfg.SerialBaud)
	}

	if cfg.MQTTBroker != "" {
		mc := telemetry.DefaultMQTTConfig()
		mc.Broker = cfg.MQTTBroker
		mc.ClientID = cfg.MQTTClientID
		mc.TopicPrefix = cfg.MQTTTopicPrefix
		mc.QoS = cfg.MQTTQoS
		mc.OdomPeriodMs = cfg.StatusPeriodMs
		pub, err := telemetry.NewMQTTPublisher(mc, r.clock, r.log)
		if err != nil {
			return err
		}
		r.sinks.Add(pub)
		r.closers = append(r.closers, pub.Close)
	}

	if cfg.CANInterface != "" {
		if err := r.openCAN(ctx); err != nil {
			return err
		}
	}

	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(r.clock, r.log, cfg.StatusPeriodMs)
		hub.OnAction(func(a telemetry.Action) {
			select {
			case r.actions <- a:
			default:
				r.log.Warn("Dropping web action %q", a.Action)
			}
		})
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: cfg.WebAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.Error("Web server: %v", err)
			}
		}()
		r.sinks.Add(hub)
		r.closers = append(r.closers, func() {
			hub.Close()
			_ = srv.Close()
		})
		r.log.Info("Websocket telemetry on %s/ws", cfg.WebAddr)
	}
	return nil
}

func (r *Runner) openCAN(ctx context.Context) error {
	var (
		cmap *utils.CANMap
		err  error
	)
	if r.cfg.CANMapPath != "" {
		cmap, err = telemetry.LoadCANMap(r.cfg.CANMapPath)
	} else {
		cmap, err = telemetry.DefaultCANMap()
	}
	if err != nil {
		return fmt.Errorf("load can map: %w", err)
	}

	writer, err := utils.NewSocketCANWriter(ctx, r.cfg.CANInterface)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, func() { _ = writer.Close() })
	reader, err := utils.NewSocketCANReader(ctx, r.cfg.CANInterface)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, func() { _ = reader.Close() })

	pub, err := telemetry.NewCANPublisher(ctx, cmap, writer, r.clock, r.log)
	if err != nil {
		return err
	}
	r.sinks.Add(pub)

	r.canSrc, err = telemetry.NewCANCommandSource(cmap, reader, r.cmdBuf, r.log)
	if err != nil {
		return err
	}
	go func() {
		if err := r.canSrc.Run(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("CAN command source stopped: %v", err)
		}
	}()
	r.log.Info("CAN telemetry on %s", r.cfg.CANInterface)
	return nil
}

func (r *Runner) Close() {
	if r.drive != nil {
		r.drive.StopMotors()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// SetScenario replaces the live command input with a scripted one.
func (r *Runner) SetScenario(scen Scenario) {
	r.player = NewScenarioPlayer(scen, r.cmdBuf)
	r.log.Info("Scenario %q: %d segments over %.1fs", scen.Meta.Name, len(scen.Segments), scen.Timing.DurationS)
}

// step runs one loop pass: host inputs, the drive and status publishing.
func (r *Runner) step() {
	now := r.clock.Millis()
	if r.player != nil {
		r.player.Update(now)
	}
	if r.canSrc != nil {
		if bits, ok := r.canSrc.DeviceControl(); ok {
			r.drive.ApplyDeviceControl(bits)
		}
	}
	for drained := false; !drained; {
		select {
		case a := <-r.actions:
			r.handleAction(a)
		default:
			drained = true
		}
	}

	r.drive.Tick()

	if now-r.lastStatus >= r.cfg.StatusPeriodMs {
		r.lastStatus = now
		r.sinks.PublishStatus(r.drive.Status())
	}
}

func (r *Runner) handleAction(a telemetry.Action) {
	switch a.Action {
	case "abort":
		r.calval.Abort()
	case "stop":
		r.drive.ApplyDeviceControl(control.ControlDisableMotors)
	case "enable":
		r.drive.ApplyDeviceControl(0)
	case "clear_odometry":
		r.drive.ApplyDeviceControl(control.ControlClearOdometry)
	default:
		r.log.Warn("Unknown web action %q", a.Action)
	}
}

// Run drives the loop until ctx is cancelled or a non-repeating scenario ends.
func (r *Runner) Run(ctx context.Context) error {
	period := time.Duration(r.cfg.LoopPeriodMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	r.log.Info("Starting control loop: period=%s", period)
	var ticks uint64
	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; stopping loop")
			r.log.Info("Loop stopped. ticks=%d", ticks)
			return ctx.Err()

		case <-ticker.C:
			r.step()
			r.calval.Process()
			ticks++
			if r.player != nil && r.player.Done() {
				r.log.Info("Scenario finished. ticks=%d", ticks)
				r.drive.StopMotors()
				return nil
			}
		}
	}
}

// RunProcedure runs one calibration or validation procedure to completion
// while keeping the loop alive between phases.
func (r *Runner) RunProcedure(ctx context.Context, p calval.Procedure, stage calval.Stage) error {
	err := r.calval.Run(ctx, p, stage, func() {
		r.clock.Sleep(r.cfg.LoopPeriodMs)
		r.step()
	})
	if rep, ok := p.(calval.Reporter); ok && rep.Report() != nil {
		r.logReport(rep.Report())
	}
	return err
}

func (r *Runner) logReport(rep *calval.Report) {
	r.log.Info("%s %s report: %d samples", rep.Procedure, rep.Stage, len(rep.Samples))
	keys := make([]string, 0, len(rep.Values))
	for k := range rep.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.log.Info("  %s = %.4f", k, rep.Values[k])
	}
	if rep.Summary != nil {
		r.log.Info("  samples=%d mean_abs_pct=%.2f max_abs_pct=%.2f", rep.Summary.Count, rep.Summary.MeanAbsPct, rep.Summary.MaxAbsPct)
	}
}

// Env exposes the pieces procedures work against.
func (r *Runner) Env() *calval.Env {
	return &calval.Env{Drive: r.drive, Store: r.store, Clock: r.clock, Log: r.log}
}

// ShowSettings writes the stored calibration and the active drive
// configuration as JSON.
func (r *Runner) ShowSettings(w io.Writer) error {
	return writeSettings(w, r.store.Snapshot(), r.cfg.Drive)
}
