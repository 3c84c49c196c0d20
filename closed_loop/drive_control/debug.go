package control

import (
	"fmt"
	"strings"

	"diffdrive-core/utils"
)

// DebugChannel is one bit of the runtime diagnostic mask.
type DebugChannel uint16

const (
	DebugLeftEncoder DebugChannel = 1 << iota
	DebugRightEncoder
	DebugLeftPID
	DebugRightPID
	DebugLeftMotor
	DebugRightMotor
	DebugOdometry
	DebugSample
	DebugUnicycle
)

var debugNames = map[string]DebugChannel{
	"encoder":  DebugLeftEncoder | DebugRightEncoder,
	"lenc":     DebugLeftEncoder,
	"renc":     DebugRightEncoder,
	"pid":      DebugLeftPID | DebugRightPID,
	"lpid":     DebugLeftPID,
	"rpid":     DebugRightPID,
	"motor":    DebugLeftMotor | DebugRightMotor,
	"lmotor":   DebugLeftMotor,
	"rmotor":   DebugRightMotor,
	"odom":     DebugOdometry,
	"sample":   DebugSample,
	"unicycle": DebugUnicycle,
}

// ParseDebugChannels turns a comma separated list of channel names into a mask.
func ParseDebugChannels(s string) (DebugChannel, error) {
	var mask DebugChannel
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if f == "all" {
			mask = ^DebugChannel(0)
			continue
		}
		ch, ok := debugNames[f]
		if !ok {
			return 0, fmt.Errorf("unknown debug channel %q", f)
		}
		mask |= ch
	}
	return mask, nil
}

// Debug gates diagnostic lines by channel. Enabled lines go to the logger
// at DEBUG level.
type Debug struct {
	mask  DebugChannel
	saved DebugChannel
	log   *utils.Logger
}

func NewDebug(log *utils.Logger, mask DebugChannel) *Debug {
	return &Debug{mask: mask, log: log}
}

func (d *Debug) Enable(ch DebugChannel)       { d.mask |= ch }
func (d *Debug) Disable(ch DebugChannel)      { d.mask &^= ch }
func (d *Debug) Enabled(ch DebugChannel) bool { return d.mask&ch != 0 }
func (d *Debug) Mask() DebugChannel           { return d.mask }
func (d *Debug) SetMask(m DebugChannel)       { d.mask = m }

// Store saves the current mask for a later Restore.
func (d *Debug) Store()   { d.saved = d.mask }
func (d *Debug) Restore() { d.mask = d.saved }

// Printf is safe on a nil Debug.
func (d *Debug) Printf(ch DebugChannel, format string, args ...any) {
	if d == nil || d.mask&ch == 0 {
		return
	}
	d.log.Debug(format, args...)
}
