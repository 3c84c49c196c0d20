package control

import (
	"math"
	"testing"

	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

func newTestCommander(t *testing.T, cfg CommandConfig) (*Commander, *CommandBuffer, *hal.ManualClock) {
	t.Helper()
	clk := hal.NewManualClock(0)
	buf := NewCommandBuffer(clk)
	return NewCommander(cfg, DefaultGeometry(), clk, buf.Read), buf, clk
}

func wheelCps(linear, angular float64) (float64, float64) {
	g := DefaultGeometry()
	l, r := utils.UniToDiff(linear, angular, g.WheelRadiusM, g.TrackWidthM)
	return l * g.CountsPerRadian(), r * g.CountsPerRadian()
}

func TestCommandBufferAge(t *testing.T) {
	clk := hal.NewManualClock(100)
	buf := NewCommandBuffer(clk)
	if _, _, age := buf.Read(); age != math.MaxUint32 {
		t.Errorf("expected max age before first command, got %d", age)
	}
	buf.Set(0.3, -0.1)
	clk.Advance(40)
	lin, ang, age := buf.Read()
	if lin != 0.3 || ang != -0.1 || age != 40 {
		t.Errorf("expected (0.3, -0.1, 40), got (%v, %v, %d)", lin, ang, age)
	}
}

func TestCommanderConvertsAndTimesOut(t *testing.T) {
	c, buf, clk := newTestCommander(t, CommandConfig{TimeoutMs: 2000, LinearGain: 1})

	c.Update()
	if !c.Expired() {
		t.Errorf("expected expired before any command")
	}

	buf.Set(0.2, 0.5)
	c.Update()
	wantL, wantR := wheelCps(0.2, 0.5)
	if c.Expired() {
		t.Fatalf("expected fresh command")
	}
	if !almostEqual(c.LeftCmdCps(), wantL, 1e-9) || !almostEqual(c.RightCmdCps(), wantR, 1e-9) {
		t.Errorf("expected (%v, %v), got (%v, %v)", wantL, wantR, c.LeftCmdCps(), c.RightCmdCps())
	}

	clk.Advance(2001)
	c.Update()
	if !c.Expired() {
		t.Errorf("expected command to expire")
	}
	if c.LeftCmdCps() != 0 || c.RightCmdCps() != 0 {
		t.Errorf("expected zero targets after timeout, got (%v, %v)", c.LeftCmdCps(), c.RightCmdCps())
	}

	c.SetCmdVelocity(0.2, 0.9)
	if c.LeftCmdCps() != 0 || c.RightCmdCps() != 0 {
		t.Errorf("expected adjusted command to respect timeout, got (%v, %v)", c.LeftCmdCps(), c.RightCmdCps())
	}
}

func TestCommanderGainTrim(t *testing.T) {
	c, buf, _ := newTestCommander(t, CommandConfig{TimeoutMs: 1000})
	c.SetLinearGainTrim(1.0, 0.1)
	buf.Set(0.2, 0)
	c.Update()
	l, r := wheelCps(0.2, 0)
	if !almostEqual(c.LeftCmdCps(), 0.9*l, 1e-9) {
		t.Errorf("expected left %v, got %v", 0.9*l, c.LeftCmdCps())
	}
	if !almostEqual(c.RightCmdCps(), 1.1*r, 1e-9) {
		t.Errorf("expected right %v, got %v", 1.1*r, c.RightCmdCps())
	}
}

func TestCommanderOverride(t *testing.T) {
	c, buf, _ := newTestCommander(t, CommandConfig{TimeoutMs: 1000, LinearGain: 1})
	buf.Set(0.2, 0)
	c.Update()

	c.SetLeftRightOverride(true)
	if lin, ang := c.CmdVelocity(); lin != 0 || ang != 0 {
		t.Errorf("expected command cleared by override, got (%v, %v)", lin, ang)
	}
	c.SetLeftRightVelocity(100, -100)
	c.Update()
	c.SetCmdVelocity(1, 1)
	if c.LeftCmdCps() != 100 || c.RightCmdCps() != -100 {
		t.Errorf("expected override targets (100, -100), got (%v, %v)", c.LeftCmdCps(), c.RightCmdCps())
	}

	c.SetLeftRightOverride(false)
	c.SetLeftRightVelocity(5, 5)
	if c.LeftCmdCps() != 0 {
		t.Errorf("expected direct velocity ignored without override, got %v", c.LeftCmdCps())
	}
}

func TestCommanderSourceSwap(t *testing.T) {
	c, buf, _ := newTestCommander(t, CommandConfig{TimeoutMs: 1000, LinearGain: 1})
	buf.Set(0.1, 0)
	c.SetCommandSource(func() (float64, float64, uint32) { return 0.3, 0, 0 })
	c.Update()
	if lin, _ := c.CmdVelocity(); lin != 0.3 {
		t.Errorf("expected 0.3 from replacement source, got %v", lin)
	}
	c.RestoreCommandSource()
	c.Update()
	if lin, _ := c.CmdVelocity(); lin != 0.1 {
		t.Errorf("expected 0.1 after restore, got %v", lin)
	}
}

func TestCommanderAccelLimit(t *testing.T) {
	c, buf, clk := newTestCommander(t, CommandConfig{TimeoutMs: 1000, LinearGain: 1, AccelLimit: true, ResponseTimeSec: 1})
	buf.Set(DefaultGeometry().MaxLinear(), 0)
	clk.Advance(100)
	c.Update()
	lin, _ := c.CmdVelocity()
	if lin <= 0 || lin >= DefaultGeometry().MaxLinear() {
		t.Errorf("expected partially ramped linear velocity, got %v", lin)
	}
}

func TestCommanderIgnoresNaN(t *testing.T) {
	c, _, _ := newTestCommander(t, CommandConfig{TimeoutMs: 1000})
	c.SetCommandSource(func() (float64, float64, uint32) { return math.NaN(), math.Inf(1), 0 })
	c.Update()
	if lin, ang := c.CmdVelocity(); lin != 0 || ang != 0 {
		t.Errorf("expected non-finite command zeroed, got (%v, %v)", lin, ang)
	}
}
