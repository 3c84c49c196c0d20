package control

import (
	"math"
	"sync"

	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

// CommandSource returns the commanded linear (m/s) and angular (rad/s)
// velocity and how many milliseconds ago that command was received.
type CommandSource func() (linear, angular float64, ageMs uint32)

// CommandBuffer holds the latest velocity command written by any producer
// (scenario script, CAN, operator) and serves it as a CommandSource.
type CommandBuffer struct {
	mu      sync.Mutex
	clock   hal.Clock
	linear  float64
	angular float64
	stamp   uint32
	valid   bool
}

func NewCommandBuffer(clock hal.Clock) *CommandBuffer {
	return &CommandBuffer{clock: clock}
}

func (b *CommandBuffer) Set(linear, angular float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linear = linear
	b.angular = angular
	b.stamp = b.clock.Millis()
	b.valid = true
}

// Read returns the stored command. A buffer never written reports the
// maximum age so the command counts as expired.
func (b *CommandBuffer) Read() (float64, float64, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return 0, 0, math.MaxUint32
	}
	return b.linear, b.angular, b.clock.Millis() - b.stamp
}

// Commander turns velocity commands into per-wheel count/sec targets.
type Commander struct {
	cfg   CommandConfig
	geom  Geometry
	clock hal.Clock

	defaultSrc CommandSource
	src        CommandSource

	linear   float64
	angular  float64
	leftCps  float64
	rightCps float64
	expired  bool
	override bool

	linLimiter *utils.AccelLimiter
	angLimiter *utils.AccelLimiter
	lastUpdate uint32
}

func NewCommander(cfg CommandConfig, geom Geometry, clock hal.Clock, src CommandSource) *Commander {
	if cfg.LinearGain == 0 {
		cfg.LinearGain = 1.0
	}
	c := &Commander{
		cfg:        cfg,
		geom:       geom,
		clock:      clock,
		defaultSrc: src,
		src:        src,
		linLimiter: utils.NewAccelLimiter(geom.MaxLinear(), cfg.ResponseTimeSec),
		angLimiter: utils.NewAccelLimiter(geom.MaxAngular(), cfg.ResponseTimeSec),
		lastUpdate: clock.Millis(),
	}
	return c
}

// Update pulls the next command from the active source.
func (c *Commander) Update() {
	now := c.clock.Millis()
	dt := float64(now-c.lastUpdate) / 1000
	c.lastUpdate = now

	linear, angular, age := c.src()
	linear, angular = finite(linear), finite(angular)

	if c.cfg.AccelLimit {
		linear = c.linLimiter.Adjust(linear, dt)
		angular = c.angLimiter.Adjust(angular, dt)
	}
	if c.cfg.EnsureAngularRate {
		linear, angular = utils.EnsureAngularVelocity(linear, angular,
			c.geom.WheelRadiusM, c.geom.TrackWidthM, c.geom.MaxWheelRadPerSec())
	}

	c.linear = linear
	c.angular = angular
	c.expired = age > c.cfg.TimeoutMs
	if !c.override {
		c.convert(linear, angular)
	}
}

func (c *Commander) convert(linear, angular float64) {
	if c.expired {
		c.leftCps, c.rightCps = 0, 0
		return
	}
	l, r := utils.UniToDiff(linear, angular, c.geom.WheelRadiusM, c.geom.TrackWidthM)
	c.leftCps = l * c.geom.CountsPerRadian()
	c.rightCps = r * c.geom.CountsPerRadian()
}

// SetCommandSource replaces the command source until RestoreCommandSource.
func (c *Commander) SetCommandSource(src CommandSource) { c.src = src }
func (c *Commander) RestoreCommandSource()              { c.src = c.defaultSrc }

// SetCmdVelocity recomputes the wheel targets from an adjusted command
// without changing the reported command. It has no effect while the
// left/right override is active or the command has expired.
func (c *Commander) SetCmdVelocity(linear, angular float64) {
	if c.override {
		return
	}
	c.convert(linear, angular)
}

func (c *Commander) CmdVelocity() (linear, angular float64) { return c.linear, c.angular }

// LeftCmdCps and RightCmdCps apply the linear gain and trim.
func (c *Commander) LeftCmdCps() float64 {
	return (c.cfg.LinearGain - c.cfg.LinearTrim) * c.leftCps
}

func (c *Commander) RightCmdCps() float64 {
	return (c.cfg.LinearGain + c.cfg.LinearTrim) * c.rightCps
}

func (c *Commander) Expired() bool { return c.expired }

// SetLeftRightOverride lets callers drive the wheels directly; all command
// state is cleared either way.
func (c *Commander) SetLeftRightOverride(enable bool) {
	c.override = enable
	c.linear, c.angular = 0, 0
	c.leftCps, c.rightCps = 0, 0
}

func (c *Commander) SetLeftRightVelocity(leftCps, rightCps float64) {
	if c.override {
		c.leftCps = leftCps
		c.rightCps = rightCps
	}
}

func (c *Commander) Overridden() bool { return c.override }

func (c *Commander) EnableAccelLimit(enable bool) {
	c.cfg.AccelLimit = enable
	c.linLimiter.Reset()
	c.angLimiter.Reset()
}

func (c *Commander) SetLinearGainTrim(gain, trim float64) {
	c.cfg.LinearGain = gain
	c.cfg.LinearTrim = trim
}
