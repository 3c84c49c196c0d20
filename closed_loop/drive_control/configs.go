package control

import "math"

// Geometry describes the wheels and encoders of the robot.
type Geometry struct {
	WheelRadiusM      float64 `json:"wheel_radius_m"`
	TrackWidthM       float64 `json:"track_width_m"`
	TicksPerRev       int     `json:"ticks_per_rev"`
	EncoderMultiplier int     `json:"encoder_multiplier"`
	MaxWheelRPM       float64 `json:"max_wheel_rpm"`
}

func DefaultGeometry() Geometry {
	return Geometry{
		WheelRadiusM:      0.0775,
		TrackWidthM:       0.3968,
		TicksPerRev:       500,
		EncoderMultiplier: 4,
		MaxWheelRPM:       95,
	}
}

func (g Geometry) WheelDiameterM() float64 { return 2 * g.WheelRadiusM }
func (g Geometry) CountsPerRev() float64   { return float64(g.TicksPerRev * g.EncoderMultiplier) }

func (g Geometry) MetersPerCount() float64 {
	return math.Pi * g.WheelDiameterM() / g.CountsPerRev()
}

func (g Geometry) CountsPerRadian() float64 {
	return g.CountsPerRev() / (2 * math.Pi)
}

func (g Geometry) MaxWheelRadPerSec() float64 {
	return g.MaxWheelRPM * 2 * math.Pi / 60
}

func (g Geometry) MaxWheelCps() float64 {
	return g.MaxWheelRPM / 60 * g.CountsPerRev()
}

// MaxLinear is the robot speed with both wheels at full speed.
func (g Geometry) MaxLinear() float64 {
	return g.MaxWheelRadPerSec() * g.WheelRadiusM
}

// MaxAngular is the spin rate with the wheels at full speed in opposite directions.
func (g Geometry) MaxAngular() float64 {
	return 2 * g.MaxLinear() / g.TrackWidthM
}

// Rates holds the sample periods and one-time start offsets, in milliseconds.
type Rates struct {
	EncoderMs        uint32 `json:"encoder_ms"`
	PIDMs            uint32 `json:"pid_ms"`
	OdometryMs       uint32 `json:"odometry_ms"`
	EncoderOffsetMs  uint32 `json:"encoder_offset_ms"`
	PIDOffsetMs      uint32 `json:"pid_offset_ms"`
	OdometryOffsetMs uint32 `json:"odometry_offset_ms"`
}

func DefaultRates() Rates {
	return Rates{
		EncoderMs:        50,
		PIDMs:            66,
		OdometryMs:       50,
		EncoderOffsetMs:  7,
		PIDOffsetMs:      11,
		OdometryOffsetMs: 23,
	}
}

// GainsConfig holds PID tuning values
type GainsConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	Kf float64 `json:"kf"`
}

// CommandConfig shapes how velocity commands become wheel targets.
type CommandConfig struct {
	TimeoutMs         uint32  `json:"timeout_ms"`
	LinearGain        float64 `json:"linear_gain"`
	LinearTrim        float64 `json:"linear_trim"`
	AccelLimit        bool    `json:"accel_limit"`
	ResponseTimeSec   float64 `json:"response_time_sec"`
	EnsureAngularRate bool    `json:"ensure_angular_rate"`
}

// DriveConfig holds everything needed to build a Drive.
type DriveConfig struct {
	Geometry        Geometry      `json:"geometry"`
	Rates           Rates         `json:"rates"`
	WheelGains      GainsConfig   `json:"wheel_gains"`
	UnicycleGains   GainsConfig   `json:"unicycle_gains"`
	UnicycleEnabled bool          `json:"unicycle_enabled"`
	Command         CommandConfig `json:"command"`
	DeltaWindow     int           `json:"delta_window"`
	CpsWindow       int           `json:"cps_window"`
}

func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		Geometry:      DefaultGeometry(),
		Rates:         DefaultRates(),
		WheelGains:    GainsConfig{Kp: 2.95, Ki: 2.8, Kd: 0.525},
		UnicycleGains: GainsConfig{Kp: 1.0},
		Command: CommandConfig{
			TimeoutMs:       2000,
			LinearGain:      1.0,
			ResponseTimeSec: 0.1,
		},
		DeltaWindow: 20,
		CpsWindow:   10,
	}
}
