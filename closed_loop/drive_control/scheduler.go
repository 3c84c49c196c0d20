package control

// PeriodicTask gates work to a fixed period on a wrapping millisecond clock.
// The first run happens at offset+period so tasks with different offsets do
// not pile onto the same tick.
type PeriodicTask struct {
	name   string
	period uint32
	offset uint32
	last   uint32
}

func NewPeriodicTask(name string, periodMs, offsetMs uint32) *PeriodicTask {
	return &PeriodicTask{name: name, period: periodMs, offset: offsetMs, last: offsetMs}
}

// Due reports whether the task should run at now and, if so, the elapsed
// time since its previous run. The difference is taken as a signed value so
// a start time ahead of now reads as not yet due across clock wraparound.
func (t *PeriodicTask) Due(now uint32) (deltaMs uint32, ok bool) {
	d := now - t.last
	if int32(d) < int32(t.period) {
		return 0, false
	}
	t.last = now
	return d, true
}

// Restart schedules the next run one period after now.
func (t *PeriodicTask) Restart(now uint32) { t.last = now }

func (t *PeriodicTask) Name() string    { return t.name }
func (t *PeriodicTask) Period() uint32  { return t.period }
func (t *PeriodicTask) LastRun() uint32 { return t.last }
