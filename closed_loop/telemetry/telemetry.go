// Package telemetry moves drive state and calibration events off the robot
// (MQTT, CAN, websocket, serial console) and velocity commands onto it.
package telemetry

import (
	"sync"

	"diffdrive-core/closed_loop/calval"
	control "diffdrive-core/closed_loop/drive_control"
)

// StatusPublisher receives periodic drive status snapshots.
type StatusPublisher interface {
	PublishStatus(control.Status)
}

// Sink is anything that takes all three kinds of telemetry.
type Sink interface {
	control.OdomPublisher
	StatusPublisher
	calval.Observer
}

// Fanout forwards every update to each attached sink.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

func (f *Fanout) each(fn func(Sink)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		fn(s)
	}
}

func (f *Fanout) PublishOdometry(s control.OdomState) {
	f.each(func(k Sink) { k.PublishOdometry(s) })
}

func (f *Fanout) PublishStatus(s control.Status) {
	f.each(func(k Sink) { k.PublishStatus(s) })
}

func (f *Fanout) Observe(e calval.Event) {
	f.each(func(k Sink) { k.Observe(e) })
}

// procedureIDs numbers the procedures on byte-wide links.
var procedureIDs = map[string]uint8{
	"motor":   1,
	"pid":     2,
	"linear":  3,
	"angular": 4,
}

// throttle passes at most one call per period.
type throttle struct {
	periodMs uint32
	last     uint32
	primed   bool
}

func (t *throttle) ready(now uint32) bool {
	if t.periodMs == 0 {
		return true
	}
	if t.primed && now-t.last < t.periodMs {
		return false
	}
	t.last = now
	t.primed = true
	return true
}
