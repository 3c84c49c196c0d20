package main

import (
	"encoding/json"
	"fmt"
	"os"

	control "diffdrive-core/closed_loop/drive_control"
)

// Scenario is a timed script of velocity commands fed to the drive in place
// of a host connection.
type Scenario struct {
	Meta     ScenarioMeta      `json:"meta"`
	Timing   ScenarioTiming    `json:"timing"`
	Defaults VelocityCmd       `json:"defaults"`
	Segments []ScenarioSegment `json:"segments"`
}

type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
	Repeat    bool    `json:"repeat"`
}

// ScenarioSegment commands a velocity over [T0, T1) seconds. A negative T1
// runs to the end of the scenario.
type ScenarioSegment struct {
	T0         float64 `json:"t0"`
	T1         float64 `json:"t1"`
	LinearMps  float64 `json:"linear_mps"`
	AngularRps float64 `json:"angular_rps"`
	Comment    string  `json:"comment,omitempty"`
}

type VelocityCmd struct {
	LinearMps  float64 `json:"linear_mps"`
	AngularRps float64 `json:"angular_rps"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := scen.validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) validate() error {
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 {
			return fmt.Errorf("segment %d: invalid t0 %f", i, seg.T0)
		}
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return fmt.Errorf("segment %d: t1 %f not after t0 %f", i, seg.T1, seg.T0)
		}
	}
	return nil
}

// EvalCommand returns the velocity command active at t seconds.
func EvalCommand(scen *Scenario, t float64) VelocityCmd {
	cmd := scen.Defaults
	for _, seg := range scen.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = scen.Timing.DurationS
		}
		if t >= seg.T0 && t < t1 {
			cmd.LinearMps = seg.LinearMps
			cmd.AngularRps = seg.AngularRps
			break
		}
	}
	return cmd
}

// ScenarioPlayer writes the scenario into a command buffer as time passes.
type ScenarioPlayer struct {
	scen    Scenario
	buf     *control.CommandBuffer
	startMs uint32
	started bool
	done    bool
}

func NewScenarioPlayer(scen Scenario, buf *control.CommandBuffer) *ScenarioPlayer {
	return &ScenarioPlayer{scen: scen, buf: buf}
}

// Update sets the command for nowMs and reports whether the scenario is
// still running. A finished scenario leaves a zero command behind.
func (p *ScenarioPlayer) Update(nowMs uint32) bool {
	if p.done {
		return false
	}
	if !p.started {
		p.startMs = nowMs
		p.started = true
	}
	t := float64(nowMs-p.startMs) / 1000
	if t >= p.scen.Timing.DurationS {
		if !p.scen.Timing.Repeat {
			p.buf.Set(0, 0)
			p.done = true
			return false
		}
		p.startMs = nowMs
		t = 0
	}
	cmd := EvalCommand(&p.scen, t)
	p.buf.Set(cmd.LinearMps, cmd.AngularRps)
	return true
}

func (p *ScenarioPlayer) Done() bool { return p.done }
