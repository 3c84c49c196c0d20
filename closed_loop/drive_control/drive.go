package control

import (
	"fmt"

	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

// Calibration is what the drive needs from the calibration store.
type Calibration interface {
	PwmConverter
	LinearBias() float64
	AngularBias() float64
	Gains(id calstore.GainsID) (calstore.Gains, bool)
	IsSet(bit calstore.StatusBit) bool
	Clear() error
}

// Hardware bundles the motor drivers and encoder counters of both wheels.
type Hardware struct {
	LeftMotor    hal.MotorDriver
	RightMotor   hal.MotorDriver
	LeftEncoder  hal.EncoderCounter
	RightEncoder hal.EncoderCounter
}

// Device control bits accepted by ApplyDeviceControl.
const (
	ControlDisableMotors    uint16 = 0x0001
	ControlClearOdometry    uint16 = 0x0002
	ControlClearCalibration uint16 = 0x0004
)

// Drive owns every piece of the control loop and runs them from Tick.
type Drive struct {
	cfg   DriveConfig
	clock hal.Clock
	log   *utils.Logger
	cal   Calibration

	Debug     *Debug
	Commander *Commander
	Left      *Encoder
	Right     *Encoder
	LeftMtr   *Motor
	RightMtr  *Motor
	LeftPID   *WheelPID
	RightPID  *WheelPID
	Unicycle  *UnicyclePID
	Odometry  *Odometry

	encTask  *PeriodicTask
	pidTask  *PeriodicTask
	odomTask *PeriodicTask

	motorsDisabled bool
}

func NewDrive(cfg DriveConfig, hw Hardware, cal Calibration, clock hal.Clock, log *utils.Logger, src CommandSource, pub OdomPublisher) (*Drive, error) {
	d := &Drive{
		cfg:   cfg,
		clock: clock,
		log:   log,
		cal:   cal,
		Debug: NewDebug(log, 0),
	}
	geom := cfg.Geometry
	if src == nil {
		src = NewCommandBuffer(clock).Read
	}

	d.Commander = NewCommander(cfg.Command, geom, clock, src)
	d.Left = NewEncoder("left", hw.LeftEncoder, geom, cal.LinearBias, cfg.DeltaWindow, cfg.CpsWindow)
	d.Right = NewEncoder("right", hw.RightEncoder, geom, cal.LinearBias, cfg.DeltaWindow, cfg.CpsWindow)
	d.LeftMtr = NewMotor("left", hw.LeftMotor, clock)
	d.RightMtr = NewMotor("right", hw.RightMotor, clock)

	var err error
	d.LeftPID, err = NewWheelPID(calstore.Left, WheelPIDConfig(cfg.WheelGains, cfg.Rates, geom),
		d.Left, d.LeftMtr, cal, d.Commander.LeftCmdCps, d.Debug)
	if err != nil {
		return nil, fmt.Errorf("left pid: %w", err)
	}
	d.RightPID, err = NewWheelPID(calstore.Right, WheelPIDConfig(cfg.WheelGains, cfg.Rates, geom),
		d.Right, d.RightMtr, cal, d.Commander.RightCmdCps, d.Debug)
	if err != nil {
		return nil, fmt.Errorf("right pid: %w", err)
	}

	d.Odometry = NewOdometry(d.Left, d.Right, geom, cal.AngularBias, pub, d.Debug)
	d.Unicycle, err = NewUnicyclePID(UnicycleConfig(cfg.UnicycleGains, cfg.Rates), d.Commander, d.Odometry.MeasuredVelocity, d.Debug)
	if err != nil {
		return nil, fmt.Errorf("unicycle pid: %w", err)
	}

	r := cfg.Rates
	d.encTask = NewPeriodicTask("encoder", r.EncoderMs, r.EncoderOffsetMs)
	d.pidTask = NewPeriodicTask("pid", r.PIDMs, r.PIDOffsetMs)
	d.odomTask = NewPeriodicTask("odometry", r.OdometryMs, r.OdometryOffsetMs)
	return d, nil
}

// Start loads stored gains, stops the motors and enables the wheel loops.
func (d *Drive) Start() {
	d.StopMotors()
	d.LoadGains()
	d.LeftPID.Enable(true)
	d.RightPID.Enable(true)
	d.Unicycle.Enable(d.cfg.UnicycleEnabled)
	now := d.clock.Millis()
	d.encTask.Restart(now + d.cfg.Rates.EncoderOffsetMs)
	d.pidTask.Restart(now + d.cfg.Rates.PIDOffsetMs)
	d.odomTask.Restart(now + d.cfg.Rates.OdometryOffsetMs)
}

// LoadGains applies the stored wheel gains when PID calibration is present
// and the configured defaults otherwise.
func (d *Drive) LoadGains() {
	for _, w := range []*WheelPID{d.LeftPID, d.RightPID} {
		g := d.cfg.WheelGains
		if d.cal.IsSet(calstore.StatusPID) {
			if stored, ok := d.cal.Gains(calstore.WheelGains(w.Wheel())); ok {
				g = GainsConfig{Kp: stored.Kp, Ki: stored.Ki, Kd: stored.Kd}
			}
		}
		if err := w.SetGains(g); err != nil {
			d.log.Error("%s pid gains: %v", w.Wheel(), err)
		}
	}
}

// Tick runs one pass of the cooperative loop.
func (d *Drive) Tick() {
	d.Commander.Update()
	d.UpdateEncoders()
	d.UpdatePIDs()
	d.UpdateOdometry()
}

// UpdateEncoders samples both encoders if their period has elapsed.
func (d *Drive) UpdateEncoders() bool {
	dt, ok := d.encTask.Due(d.clock.Millis())
	if !ok {
		return false
	}
	d.Left.Update(dt)
	d.Right.Update(dt)
	d.Debug.Printf(DebugSample, "enc dt %d", dt)
	for _, e := range []struct {
		enc *Encoder
		ch  DebugChannel
	}{{d.Left, DebugLeftEncoder}, {d.Right, DebugRightEncoder}} {
		d.Debug.Printf(e.ch, "%s enc: %.3f %.3f %.3f %d %.3f",
			e.enc.Name(), e.enc.Cps(), e.enc.Mps(), e.enc.AvgDelta(), e.enc.Delta(), e.enc.Distance())
	}
	return true
}

// UpdatePIDs runs the unicycle and wheel loops if their period has elapsed.
func (d *Drive) UpdatePIDs() bool {
	dt, ok := d.pidTask.Due(d.clock.Millis())
	if !ok {
		return false
	}
	d.Debug.Printf(DebugSample, "pid dt %d", dt)
	if d.motorsDisabled {
		return true
	}
	d.Unicycle.Process()
	d.LeftPID.Process()
	d.RightPID.Process()
	d.Debug.Printf(DebugLeftMotor, "left motor: %d", d.LeftMtr.Pwm())
	d.Debug.Printf(DebugRightMotor, "right motor: %d", d.RightMtr.Pwm())
	return true
}

// UpdateOdometry integrates odometry if its period has elapsed.
func (d *Drive) UpdateOdometry() bool {
	dt, ok := d.odomTask.Due(d.clock.Millis())
	if !ok {
		return false
	}
	d.Debug.Printf(DebugSample, "odom dt %d", dt)
	d.Odometry.Update()
	return true
}

func (d *Drive) ResetEncoders() {
	d.Left.Reset()
	d.Right.Reset()
}

func (d *Drive) ResetPIDs() {
	d.LeftPID.Reset()
	d.RightPID.Reset()
	d.Unicycle.Reset()
}

func (d *Drive) ResetOdometry() { d.Odometry.Reset() }

func (d *Drive) EnablePIDs(enable bool) {
	d.LeftPID.Enable(enable)
	d.RightPID.Enable(enable)
}

func (d *Drive) BypassPIDs(bypass bool) {
	d.LeftPID.Bypass(bypass)
	d.RightPID.Bypass(bypass)
}

func (d *Drive) SetPIDTargets(left, right TargetFunc) {
	d.LeftPID.SetTarget(left)
	d.RightPID.SetTarget(right)
}

func (d *Drive) RestorePIDTargets() {
	d.LeftPID.RestoreTarget()
	d.RightPID.RestoreTarget()
}

func (d *Drive) StopMotors() {
	d.LeftMtr.Stop()
	d.RightMtr.Stop()
}

// ApplyDeviceControl acts on a device control word from the host.
func (d *Drive) ApplyDeviceControl(bits uint16) {
	disable := bits&ControlDisableMotors != 0
	if disable {
		d.StopMotors()
	}
	if disable != d.motorsDisabled {
		d.log.Info("motors disabled: %v", disable)
	}
	d.motorsDisabled = disable
	if bits&ControlClearOdometry != 0 {
		d.ResetOdometry()
	}
	if bits&ControlClearCalibration != 0 {
		if err := d.cal.Clear(); err != nil {
			d.log.Error("clear calibration: %v", err)
		}
	}
}

// Wheel accessors used by calibration procedures.
func (d *Drive) Encoder(w calstore.Wheel) *Encoder {
	if w == calstore.Right {
		return d.Right
	}
	return d.Left
}

func (d *Drive) Motor(w calstore.Wheel) *Motor {
	if w == calstore.Right {
		return d.RightMtr
	}
	return d.LeftMtr
}

func (d *Drive) PID(w calstore.Wheel) *WheelPID {
	if w == calstore.Right {
		return d.RightPID
	}
	return d.LeftPID
}

func (d *Drive) Config() DriveConfig { return d.cfg }
func (d *Drive) Clock() hal.Clock    { return d.clock }

// Status is a point-in-time view of the drive for telemetry.
type Status struct {
	TimeMs      uint32         `json:"time_ms"`
	CmdLinear   float64        `json:"cmd_linear"`
	CmdAngular  float64        `json:"cmd_angular"`
	CmdExpired  bool           `json:"cmd_expired"`
	LeftTarget  float64        `json:"left_target_cps"`
	RightTarget float64        `json:"right_target_cps"`
	Left        EncoderState   `json:"left"`
	Right       EncoderState   `json:"right"`
	LeftPwm     uint16         `json:"left_pwm"`
	RightPwm    uint16         `json:"right_pwm"`
	LeftPID     PIDDiagnostics `json:"left_pid"`
	RightPID    PIDDiagnostics `json:"right_pid"`
	Odometry    OdomState      `json:"odometry"`
}

func (d *Drive) Status() Status {
	lin, ang := d.Commander.CmdVelocity()
	return Status{
		TimeMs:      d.clock.Millis(),
		CmdLinear:   lin,
		CmdAngular:  ang,
		CmdExpired:  d.Commander.Expired(),
		LeftTarget:  d.Commander.LeftCmdCps(),
		RightTarget: d.Commander.RightCmdCps(),
		Left:        d.Left.State(),
		Right:       d.Right.State(),
		LeftPwm:     d.LeftMtr.Pwm(),
		RightPwm:    d.RightMtr.Pwm(),
		LeftPID:     d.LeftPID.Diagnostics(),
		RightPID:    d.RightPID.Diagnostics(),
		Odometry:    d.Odometry.Snapshot(),
	}
}
