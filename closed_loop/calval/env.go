package calval

import (
	"diffdrive-core/closed_loop/calstore"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

// Env is what every procedure works against.
type Env struct {
	Drive *control.Drive
	Store *calstore.Store
	Clock hal.Clock
	Log   *utils.Logger
}

// prepareMotion gets the drive ready for a closed loop run: PIDs enabled,
// everything reset and odometry republished at zero.
func (e *Env) prepareMotion() {
	e.Drive.EnablePIDs(true)
	e.Drive.ResetEncoders()
	e.Drive.ResetPIDs()
	e.Drive.ResetOdometry()
}

// velocitySource returns a command source that always reports a fresh
// command read from the given variables.
func velocitySource(linear, angular *float64) control.CommandSource {
	return func() (float64, float64, uint32) {
		return *linear, *angular, 0
	}
}

// Selection picks the wheels and directions a procedure runs.
type Selection struct {
	Wheels     []calstore.Wheel
	Directions []calstore.Direction
}

// AllLegs selects both wheels in both directions.
func AllLegs() Selection {
	return Selection{
		Wheels:     []calstore.Wheel{calstore.Left, calstore.Right},
		Directions: []calstore.Direction{calstore.Forward, calstore.Backward},
	}
}

type leg struct {
	wheel calstore.Wheel
	dir   calstore.Direction
}

func (l leg) String() string { return l.wheel.String() + "-" + l.dir.String() }

// legs orders the selection direction first: left-forward, right-forward,
// left-backward, right-backward.
func (s Selection) legs() []leg {
	var out []leg
	for _, d := range s.Directions {
		for _, w := range s.Wheels {
			out = append(out, leg{w, d})
		}
	}
	return out
}

// ParseWheels accepts left, right or both.
func ParseWheels(s string) ([]calstore.Wheel, bool) {
	switch s {
	case "left":
		return []calstore.Wheel{calstore.Left}, true
	case "right":
		return []calstore.Wheel{calstore.Right}, true
	case "both", "":
		return []calstore.Wheel{calstore.Left, calstore.Right}, true
	}
	return nil, false
}

// ParseDirections accepts forward, backward or both.
func ParseDirections(s string) ([]calstore.Direction, bool) {
	switch s {
	case "forward", "fwd":
		return []calstore.Direction{calstore.Forward}, true
	case "backward", "bwd":
		return []calstore.Direction{calstore.Backward}, true
	case "both", "":
		return []calstore.Direction{calstore.Forward, calstore.Backward}, true
	}
	return nil, false
}
