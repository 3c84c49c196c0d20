package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	control "diffdrive-core/closed_loop/drive_control"
)

// Hardware profiles accepted by HARDWARE.
const (
	HardwareSim    = "sim"
	HardwarePeriph = "periph"
)

// Config holds all application configuration values.
type Config struct {
	// Logging
	LogLevel string
	LogFile  string

	// Hardware
	Hardware           string
	LeftMotorPin       string
	RightMotorPin      string
	LeftEncoderA       string
	LeftEncoderB       string
	RightEncoderA      string
	RightEncoderB      string
	RightEncoderInvert bool
	NVStorePath        string

	// Loop
	LoopPeriodMs   uint32
	StatusPeriodMs uint32

	// Control core
	Drive control.DriveConfig

	// CAN
	CANInterface string
	CANMapPath   string // empty uses the embedded map

	// MQTT
	MQTTBroker      string // empty disables MQTT
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTQoS         byte

	// Web
	WebAddr string // empty disables the websocket hub

	// Serial console
	SerialPort string // empty disables the console
	SerialBaud uint
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		LogFile:         "closed_loop.log",
		Hardware:        HardwareSim,
		LeftMotorPin:    "GPIO12",
		RightMotorPin:   "GPIO13",
		LeftEncoderA:    "GPIO5",
		LeftEncoderB:    "GPIO6",
		RightEncoderA:   "GPIO16",
		RightEncoderB:   "GPIO20",
		NVStorePath:     "calibration.nv",
		LoopPeriodMs:    1,
		StatusPeriodMs:  100,
		Drive:           control.DefaultDriveConfig(),
		MQTTClientID:    "diffdrive-core",
		MQTTTopicPrefix: "robot",
		SerialBaud:      115200,
	}
}

// Load reads KEY=VALUE lines from configPath on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseMs(key, value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint32(v), nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parsePositiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	d := &c.Drive
	var err error
	switch key {
	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	// Hardware
	case "HARDWARE":
		c.Hardware = strings.ToLower(value)
	case "LEFT_MOTOR_PIN":
		c.LeftMotorPin = value
	case "RIGHT_MOTOR_PIN":
		c.RightMotorPin = value
	case "LEFT_ENCODER_A":
		c.LeftEncoderA = value
	case "LEFT_ENCODER_B":
		c.LeftEncoderB = value
	case "RIGHT_ENCODER_A":
		c.RightEncoderA = value
	case "RIGHT_ENCODER_B":
		c.RightEncoderB = value
	case "RIGHT_ENCODER_INVERT":
		c.RightEncoderInvert, err = parseBool(key, value)
	case "NV_STORE":
		c.NVStorePath = value

	// Loop
	case "LOOP_PERIOD_MS":
		c.LoopPeriodMs, err = parseMs(key, value)
	case "STATUS_PERIOD_MS":
		c.StatusPeriodMs, err = parseMs(key, value)

	// Geometry
	case "WHEEL_RADIUS_M":
		d.Geometry.WheelRadiusM, err = parseFloat(key, value)
	case "TRACK_WIDTH_M":
		d.Geometry.TrackWidthM, err = parseFloat(key, value)
	case "TICKS_PER_REV":
		d.Geometry.TicksPerRev, err = parsePositiveInt(key, value)
	case "ENCODER_MULTIPLIER":
		d.Geometry.EncoderMultiplier, err = parsePositiveInt(key, value)
	case "MAX_WHEEL_RPM":
		d.Geometry.MaxWheelRPM, err = parseFloat(key, value)

	// Rates
	case "ENCODER_RATE_MS":
		d.Rates.EncoderMs, err = parseMs(key, value)
	case "PID_RATE_MS":
		d.Rates.PIDMs, err = parseMs(key, value)
	case "ODOMETRY_RATE_MS":
		d.Rates.OdometryMs, err = parseMs(key, value)
	case "ENCODER_OFFSET_MS":
		d.Rates.EncoderOffsetMs, err = parseMs(key, value)
	case "PID_OFFSET_MS":
		d.Rates.PIDOffsetMs, err = parseMs(key, value)
	case "ODOMETRY_OFFSET_MS":
		d.Rates.OdometryOffsetMs, err = parseMs(key, value)
	case "DELTA_WINDOW":
		d.DeltaWindow, err = parsePositiveInt(key, value)
	case "CPS_WINDOW":
		d.CpsWindow, err = parsePositiveInt(key, value)

	// Gains
	case "WHEEL_KP":
		d.WheelGains.Kp, err = parseFloat(key, value)
	case "WHEEL_KI":
		d.WheelGains.Ki, err = parseFloat(key, value)
	case "WHEEL_KD":
		d.WheelGains.Kd, err = parseFloat(key, value)
	case "WHEEL_KF":
		d.WheelGains.Kf, err = parseFloat(key, value)
	case "UNICYCLE_KP":
		d.UnicycleGains.Kp, err = parseFloat(key, value)
	case "UNICYCLE_KI":
		d.UnicycleGains.Ki, err = parseFloat(key, value)
	case "UNICYCLE_KD":
		d.UnicycleGains.Kd, err = parseFloat(key, value)
	case "UNICYCLE_ENABLED":
		d.UnicycleEnabled, err = parseBool(key, value)

	// Command velocity
	case "CMD_TIMEOUT_MS":
		d.Command.TimeoutMs, err = parseMs(key, value)
	case "LINEAR_GAIN":
		d.Command.LinearGain, err = parseFloat(key, value)
	case "LINEAR_TRIM":
		d.Command.LinearTrim, err = parseFloat(key, value)
	case "ACCEL_LIMIT":
		d.Command.AccelLimit, err = parseBool(key, value)
	case "RESPONSE_TIME_SEC":
		d.Command.ResponseTimeSec, err = parseFloat(key, value)
	case "ENSURE_ANGULAR_RATE":
		d.Command.EnsureAngularRate, err = parseBool(key, value)

	// CAN
	case "CAN_IFACE":
		c.CANInterface = value
	case "CAN_MAP":
		c.CANMapPath = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = value
	case "MQTT_QOS":
		qos, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid MQTT_QOS %q: %w", value, perr)
		}
		if qos < 0 || qos > 2 {
			return fmt.Errorf("MQTT_QOS must be 0-2, got %d", qos)
		}
		c.MQTTQoS = byte(qos)

	// Web
	case "WEB_ADDR":
		c.WebAddr = value

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD":
		baud, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid SERIAL_BAUD %q: %w", value, perr)
		}
		c.SerialBaud = uint(baud)

	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return err
}

func (c *Config) validate() error {
	switch c.Hardware {
	case HardwareSim:
	case HardwarePeriph:
		pins := map[string]string{
			"LEFT_MOTOR_PIN":  c.LeftMotorPin,
			"RIGHT_MOTOR_PIN": c.RightMotorPin,
			"LEFT_ENCODER_A":  c.LeftEncoderA,
			"LEFT_ENCODER_B":  c.LeftEncoderB,
			"RIGHT_ENCODER_A": c.RightEncoderA,
			"RIGHT_ENCODER_B": c.RightEncoderB,
		}
		for key, pin := range pins {
			if pin == "" {
				return fmt.Errorf("%s is required for periph hardware", key)
			}
		}
	default:
		return fmt.Errorf("HARDWARE must be %q or %q, got %q", HardwareSim, HardwarePeriph, c.Hardware)
	}
	if c.NVStorePath == "" {
		return fmt.Errorf("NV_STORE is required")
	}
	if c.LoopPeriodMs == 0 {
		return fmt.Errorf("LOOP_PERIOD_MS is required")
	}

	d := c.Drive
	if d.Geometry.WheelRadiusM <= 0 {
		return fmt.Errorf("WHEEL_RADIUS_M must be positive")
	}
	if d.Geometry.TrackWidthM <= 0 {
		return fmt.Errorf("TRACK_WIDTH_M must be positive")
	}
	if d.Geometry.MaxWheelRPM <= 0 {
		return fmt.Errorf("MAX_WHEEL_RPM must be positive")
	}
	if d.Rates.EncoderMs == 0 || d.Rates.PIDMs == 0 || d.Rates.OdometryMs == 0 {
		return fmt.Errorf("ENCODER_RATE_MS, PID_RATE_MS and ODOMETRY_RATE_MS must be non-zero")
	}
	for key, g := range map[string]float64{
		"WHEEL_KP": d.WheelGains.Kp, "WHEEL_KI": d.WheelGains.Ki, "WHEEL_KD": d.WheelGains.Kd,
		"UNICYCLE_KP": d.UnicycleGains.Kp, "UNICYCLE_KI": d.UnicycleGains.Ki, "UNICYCLE_KD": d.UnicycleGains.Kd,
	} {
		if g < 0 {
			return fmt.Errorf("%s must not be negative, got %g", key, g)
		}
	}
	if c.SerialPort != "" && c.SerialBaud == 0 {
		return fmt.Errorf("SERIAL_BAUD is required with SERIAL_PORT")
	}
	return nil
}
