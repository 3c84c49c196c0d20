package telemetry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.einride.tech/can"

	"diffdrive-core/closed_loop/calval"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

//go:embed robot_can_map.csv
var defaultCANMap string

// Frame names of the robot CAN map.
const (
	FrameOdomPose    = "ODOM_POSE"
	FrameOdomVel     = "ODOM_VEL"
	FrameWheelStatus = "WHEEL_STATUS"
	FrameCalvalState = "CALVAL_STATE"
	FrameCmdVel      = "CMD_VEL"
	FrameDeviceCtrl  = "DEVICE_CTRL"
)

// DefaultCANMap returns the built-in frame map.
func DefaultCANMap() (*utils.CANMap, error) {
	return utils.ParseCANMap(strings.NewReader(defaultCANMap))
}

// LoadCANMap reads path, or the built-in map when path is empty.
func LoadCANMap(path string) (*utils.CANMap, error) {
	if path == "" {
		return DefaultCANMap()
	}
	return utils.LoadCANMap(path)
}

// CANPublisher encodes drive telemetry into the tx frames of the map,
// honouring each frame's cycle time.
type CANPublisher struct {
	ctx   context.Context
	cmap  *utils.CANMap
	w     utils.CANWriter
	clock hal.Clock
	log   *utils.Logger

	mu    sync.Mutex
	gates map[string]*throttle
	sent  uint64
}

func NewCANPublisher(ctx context.Context, cmap *utils.CANMap, w utils.CANWriter, clock hal.Clock, log *utils.Logger) (*CANPublisher, error) {
	p := &CANPublisher{ctx: ctx, cmap: cmap, w: w, clock: clock, log: log, gates: map[string]*throttle{}}
	for _, name := range []string{FrameOdomPose, FrameOdomVel, FrameWheelStatus, FrameCalvalState} {
		fd, err := cmap.FrameByName(name)
		if err != nil {
			return nil, err
		}
		if fd.Direction != "tx" {
			return nil, fmt.Errorf("frame %s must be tx, got %s", name, fd.Direction)
		}
		p.gates[name] = &throttle{periodMs: uint32(max(fd.CycleMS, 0))}
	}
	return p, nil
}

func (p *CANPublisher) send(name string, values map[string]float64) {
	p.mu.Lock()
	due := p.gates[name].ready(p.clock.Millis())
	p.mu.Unlock()
	if !due {
		return
	}
	frame, err := p.cmap.EncodeEinrideFrame(name, values)
	if err != nil {
		p.log.Error("can encode %s: %v", name, err)
		return
	}
	if err := p.w.WriteFrame(p.ctx, frame); err != nil {
		p.log.Warn("can transmit %s: %v", name, err)
		return
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	p.log.Trace("can tx id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
}

// Sent returns the number of frames transmitted.
func (p *CANPublisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func (p *CANPublisher) PublishOdometry(s control.OdomState) {
	p.send(FrameOdomPose, map[string]float64{"x": s.X, "y": s.Y, "heading": s.Heading})
	p.send(FrameOdomVel, map[string]float64{"linear": s.Linear, "angular": s.Angular})
}

func (p *CANPublisher) PublishStatus(s control.Status) {
	p.send(FrameWheelStatus, map[string]float64{
		"left_cps":  s.Left.Cps,
		"right_cps": s.Right.Cps,
		"left_pwm":  float64(s.LeftPwm),
		"right_pwm": float64(s.RightPwm),
	})
}

func (p *CANPublisher) Observe(e calval.Event) {
	p.send(FrameCalvalState, map[string]float64{
		"procedure": float64(procedureIDs[e.Procedure]),
		"stage":     float64(e.Stage),
		"state":     float64(e.State),
		"failed":    control.BoolToFloat(e.Failed),
	})
}

// CANCommandSource feeds CMD_VEL frames into a command buffer and latches
// DEVICE_CTRL words for the control loop to apply.
type CANCommandSource struct {
	cmap *utils.CANMap
	r    utils.CANReader
	buf  *control.CommandBuffer
	log  *utils.Logger

	cmdID   uint32
	ctrlID  uint32
	control atomic.Uint32
	pending atomic.Bool
}

func NewCANCommandSource(cmap *utils.CANMap, r utils.CANReader, buf *control.CommandBuffer, log *utils.Logger) (*CANCommandSource, error) {
	cmd, err := cmap.FrameByName(FrameCmdVel)
	if err != nil {
		return nil, err
	}
	ctrl, err := cmap.FrameByName(FrameDeviceCtrl)
	if err != nil {
		return nil, err
	}
	return &CANCommandSource{cmap: cmap, r: r, buf: buf, log: log, cmdID: cmd.ID, ctrlID: ctrl.ID}, nil
}

// Run reads frames until ctx ends or the reader fails.
func (c *CANCommandSource) Run(ctx context.Context) error {
	c.log.Debug("can rx loop started")
	defer c.log.Debug("can rx loop stopped")
	for {
		f, err := c.r.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, utils.ErrReaderClosed) {
				return err
			}
			c.log.Error("can rx: %v", err)
			continue
		}
		if err := c.handle(f); err != nil {
			c.log.Warn("can rx id=0x%X: %v", f.ID, err)
		}
	}
}

func (c *CANCommandSource) handle(f can.Frame) error {
	switch f.ID {
	case c.cmdID:
		v, err := c.cmap.DecodeEinrideFrame(f)
		if err != nil {
			return err
		}
		c.buf.Set(v["linear"], v["angular"])
		c.log.Trace("can cmd_vel %.3f %.3f", v["linear"], v["angular"])
	case c.ctrlID:
		v, err := c.cmap.DecodeEinrideFrame(f)
		if err != nil {
			return err
		}
		c.control.Store(uint32(v["control"]))
		c.pending.Store(true)
	}
	return nil
}

// DeviceControl returns the latest control word once.
func (c *CANCommandSource) DeviceControl() (uint16, bool) {
	if !c.pending.Swap(false) {
		return 0, false
	}
	return uint16(c.control.Load()), true
}
