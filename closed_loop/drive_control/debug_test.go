package control

import (
	"bytes"
	"strings"
	"testing"

	"diffdrive-core/utils"
)

func TestParseDebugChannels(t *testing.T) {
	tests := []struct {
		in      string
		want    DebugChannel
		wantErr bool
	}{
		{"", 0, false},
		{"lpid", DebugLeftPID, false},
		{"encoder, odom", DebugLeftEncoder | DebugRightEncoder | DebugOdometry, false},
		{"ALL", ^DebugChannel(0), false},
		{"lpid,bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDebugChannels(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDebugChannels(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDebugChannels(%q): expected %#x, got %#x", tt.in, tt.want, got)
		}
	}
}

func TestDebugGatesByChannel(t *testing.T) {
	var buf bytes.Buffer
	d := NewDebug(utils.NewLogger(&buf, utils.TRACE), DebugOdometry)
	d.Printf(DebugLeftPID, "hidden")
	d.Printf(DebugOdometry, "shown %d", 7)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown 7") {
		t.Errorf("unexpected debug output %q", out)
	}

	d.Store()
	d.SetMask(0)
	if d.Enabled(DebugOdometry) {
		t.Errorf("expected odometry channel disabled")
	}
	d.Restore()
	if !d.Enabled(DebugOdometry) {
		t.Errorf("expected odometry channel restored")
	}

	var nilDebug *Debug
	nilDebug.Printf(DebugOdometry, "no panic")
}
