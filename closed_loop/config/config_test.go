package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robot.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# robot on the bench
LOG_LEVEL=DEBUG
HARDWARE=periph
RIGHT_ENCODER_INVERT=true
NV_STORE=/var/lib/robot/cal.nv
WHEEL_RADIUS_M = 0.05
PID_RATE_MS=20
WHEEL_KP=1.5
UNICYCLE_ENABLED=true
ACCEL_LIMIT=true
CMD_TIMEOUT_MS=500
MQTT_BROKER=tcp://broker:1883
MQTT_QOS=1
WEB_ADDR=:8080
SERIAL_PORT=/dev/ttyUSB0
SERIAL_BAUD=57600
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.Hardware != HardwarePeriph || !cfg.RightEncoderInvert {
		t.Errorf("hardware settings not applied: %+v", cfg)
	}
	if cfg.NVStorePath != "/var/lib/robot/cal.nv" {
		t.Errorf("expected nv path override, got %q", cfg.NVStorePath)
	}
	d := cfg.Drive
	if d.Geometry.WheelRadiusM != 0.05 {
		t.Errorf("expected wheel radius 0.05, got %v", d.Geometry.WheelRadiusM)
	}
	if d.Rates.PIDMs != 20 {
		t.Errorf("expected pid rate 20, got %d", d.Rates.PIDMs)
	}
	if d.WheelGains.Kp != 1.5 {
		t.Errorf("expected wheel kp 1.5, got %v", d.WheelGains.Kp)
	}
	if !d.UnicycleEnabled || !d.Command.AccelLimit || d.Command.TimeoutMs != 500 {
		t.Errorf("command settings not applied: %+v", d.Command)
	}
	if cfg.MQTTBroker != "tcp://broker:1883" || cfg.MQTTQoS != 1 {
		t.Errorf("mqtt settings not applied: %q qos %d", cfg.MQTTBroker, cfg.MQTTQoS)
	}
	if cfg.SerialBaud != 57600 || cfg.WebAddr != ":8080" {
		t.Errorf("expected serial 57600 and web :8080, got %d %q", cfg.SerialBaud, cfg.WebAddr)
	}

	// untouched keys keep their defaults
	def := Default()
	if d.Geometry.TrackWidthM != def.Drive.Geometry.TrackWidthM {
		t.Errorf("expected default track width, got %v", d.Geometry.TrackWidthM)
	}
	if d.Rates.EncoderMs != def.Drive.Rates.EncoderMs {
		t.Errorf("expected default encoder rate, got %d", d.Rates.EncoderMs)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing equals", "LOG_LEVEL debug\n", "invalid config line 1"},
		{"unknown key", "# header\nNOPE=1\n", "config line 2: unknown key"},
		{"bad float", "WHEEL_KP=fast\n", "invalid WHEEL_KP"},
		{"bad bool", "ACCEL_LIMIT=maybe\n", "invalid ACCEL_LIMIT"},
		{"zero window", "CPS_WINDOW=0\n", "CPS_WINDOW must be positive"},
		{"qos range", "MQTT_QOS=3\n", "MQTT_QOS must be 0-2"},
		{"hardware", "HARDWARE=arduino\n", "HARDWARE must be"},
		{"periph pins", "HARDWARE=periph\nLEFT_ENCODER_B=\n", "LEFT_ENCODER_B is required"},
		{"negative gain", "UNICYCLE_KI=-1\n", "UNICYCLE_KI must not be negative"},
		{"zero rate", "PID_RATE_MS=0\n", "must be non-zero"},
		{"serial baud", "SERIAL_PORT=/dev/ttyS0\nSERIAL_BAUD=0\n", "SERIAL_BAUD is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.conf")); err == nil {
		t.Error("expected error for missing file")
	}
}
